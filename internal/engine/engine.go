package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel/internal/catalog"
	"sentinel/internal/config"
	"sentinel/internal/emit"
	"sentinel/internal/model"
	"sentinel/internal/rules"
	"sentinel/internal/session"
	"sentinel/internal/storage"
	"sentinel/internal/window"
)

// Engine correlates the telemetry streams and drives the rule set. Each
// station owns one stationState guarded by its own mutex, so separate
// stations evaluate in parallel while window and session invariants stay
// serialized per station.
type Engine struct {
	logger   *slog.Logger
	catalog  *catalog.Catalog
	emitter  *emit.Emitter
	store    storage.Store
	cfg      atomic.Value
	ruleSet  []rules.Rule
	byKind   map[model.StreamKind][]rules.Rule
	sweepers []rules.Sweeper

	mu       sync.Mutex
	stations map[string]*stationState

	fatal chan error
	done  chan struct{}
}

type stationState struct {
	id            string
	mu            sync.Mutex
	windows       *window.Store
	sessions      *session.Tracker
	baseline      *rules.Baseline
	baselineInit  bool
	crashReported bool
}

func NewEngine(cfg *config.Config, cat *catalog.Catalog, emitter *emit.Emitter, store storage.Store, logger *slog.Logger) *Engine {
	ruleSet := rules.Default()
	byKind := make(map[model.StreamKind][]rules.Rule)
	var sweepers []rules.Sweeper
	for _, r := range ruleSet {
		for _, kind := range r.Kinds() {
			byKind[kind] = append(byKind[kind], r)
		}
		if sw, ok := r.(rules.Sweeper); ok {
			sweepers = append(sweepers, sw)
		}
	}
	e := &Engine{
		logger:   logger,
		catalog:  cat,
		emitter:  emitter,
		store:    store,
		ruleSet:  ruleSet,
		byKind:   byKind,
		sweepers: sweepers,
		stations: make(map[string]*stationState),
		fatal:    make(chan error, 1),
		done:     make(chan struct{}),
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Errs delivers at most one fatal error, raised when the sink cannot be
// written even after retries.
func (e *Engine) Errs() <-chan error {
	return e.fatal
}

// Done is closed once the run loop has exited, the queue is drained and
// the final sweep has run. The sink must stay open until then.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Start consumes records until the context is cancelled, interleaving the
// periodic sweep. On shutdown the in-flight queue is drained and a final
// sweep runs before Done closes, so no detected candidate is lost.
func (e *Engine) Start(ctx context.Context, in <-chan model.StreamRecord) {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.config().Detection.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case rec := <-in:
				if err := e.ProcessRecord(rec); err != nil {
					e.raise(err)
					return
				}
			case <-ticker.C:
				if err := e.Sweep(time.Now().UTC()); err != nil {
					e.raise(err)
					return
				}
			case <-ctx.Done():
				e.drain(in)
				return
			}
		}
	}()
}

func (e *Engine) drain(in <-chan model.StreamRecord) {
	for {
		select {
		case rec := <-in:
			if err := e.ProcessRecord(rec); err != nil {
				e.raise(err)
				return
			}
		default:
			if err := e.Sweep(time.Now().UTC()); err != nil {
				e.raise(err)
			}
			return
		}
	}
}

func (e *Engine) raise(err error) {
	select {
	case e.fatal <- err:
	default:
	}
	if e.logger != nil {
		e.logger.Error("engine fatal error", "err", err)
	}
}

// ProcessRecord admits one record and re-evaluates exactly the rules
// relevant to its stream kind at its station.
func (e *Engine) ProcessRecord(rec model.StreamRecord) error {
	cfg := e.config()
	st := e.station(rec.StationID, cfg)

	st.mu.Lock()
	st.windows.Admit(rec)
	st.crashReported = false

	if rec.CustomerID != "" {
		st.sessions.Observe(rec)
	}
	if rec.Kind == model.KindPOS && rec.Status == model.StatusCrash {
		if closed := st.sessions.CloseAll(); len(closed) > 0 && e.logger != nil {
			e.logger.Info("sessions closed on crash signal", "station_id", st.id, "count", len(closed))
		}
	}
	if rec.Kind == model.KindInventory {
		e.seedBaseline(st, rec)
	}

	det := cfg.Detection
	in := rules.Input{
		Record:    rec,
		Short:     st.windows.Snapshot(rec.Timestamp, det.CorrelationWindowShort),
		Secondary: st.windows.Snapshot(rec.Timestamp, det.BarcodeSwitchWindow),
		Long:      st.windows.Snapshot(rec.Timestamp, det.CorrelationWindowLong),
		Sessions:  st.sessions.Active(),
		Baseline:  st.baseline,
		Catalog:   e.catalog,
		Cfg:       det,
	}
	var candidates []model.AnomalyCandidate
	for _, r := range e.byKind[rec.Kind] {
		cands, err := r.Evaluate(in)
		if err != nil {
			if e.logger != nil && errors.Is(err, rules.ErrMissingField) {
				e.logger.Warn("rule skipped record", "station_id", st.id, "kind", rec.Kind, "err", err)
			}
			continue
		}
		candidates = append(candidates, cands...)
	}
	st.mu.Unlock()

	return e.emitter.Emit(candidates)
}

// Sweep drives the absence-based rules and the session lifecycle across
// all known stations.
func (e *Engine) Sweep(now time.Time) error {
	cfg := e.config()
	det := cfg.Detection

	e.mu.Lock()
	states := make([]*stationState, 0, len(e.stations))
	for _, st := range e.stations {
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		st.windows.EvictAll(now)
		if closed := st.sessions.Sweep(now); len(closed) > 0 && e.logger != nil {
			e.logger.Info("sessions closed on hard timeout", "station_id", st.id, "count", len(closed))
		}
		in := rules.SweepInput{
			StationID:     st.id,
			Now:           now,
			Short:         st.windows.Snapshot(now, det.CorrelationWindowShort),
			LastSeen:      st.windows.LastSeen(),
			CrashReported: st.crashReported,
			Sessions:      st.sessions.Active(),
			Catalog:       e.catalog,
			Cfg:           det,
		}
		var candidates []model.AnomalyCandidate
		for _, sw := range e.sweepers {
			candidates = append(candidates, sw.Sweep(in)...)
		}
		for _, cand := range candidates {
			if cand.Name == model.EventSystemCrash {
				st.crashReported = true
			}
		}
		st.mu.Unlock()

		if err := e.emitter.Emit(candidates); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) station(stationID string, cfg *config.Config) *stationState {
	if stationID == "" {
		stationID = "UNKNOWN"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.stations[stationID]; ok {
		return st
	}
	det := cfg.Detection
	st := &stationState{
		id:       stationID,
		windows:  window.NewStore(stationID, det.CorrelationWindowShort, det.CorrelationWindowLong),
		sessions: session.NewTracker(stationID, det.SessionIdleTimeout, det.SessionHardTimeout, det.SessionRecordCap),
	}
	e.stations[stationID] = st
	return st
}

// seedBaseline establishes the inventory baseline for a station: the
// persisted one when storage is enabled, otherwise the first snapshot of
// the run. Called with the station lock held.
func (e *Engine) seedBaseline(st *stationState, rec model.StreamRecord) {
	if st.baselineInit {
		return
	}
	st.baselineInit = true
	if e.store != nil {
		counts, takenAt, err := e.store.LoadBaseline(context.Background(), st.id)
		if err == nil {
			st.baseline = &rules.Baseline{Counts: counts, TakenAt: takenAt}
			return
		}
		if !errors.Is(err, storage.ErrNoBaseline) && e.logger != nil {
			e.logger.Warn("baseline load failed", "station_id", st.id, "err", err)
		}
	}
	counts := make(map[string]int, len(rec.Inventory))
	for sku, qty := range rec.Inventory {
		counts[sku] = qty
	}
	st.baseline = &rules.Baseline{Counts: counts, TakenAt: rec.Timestamp}
	if e.store != nil {
		if err := e.store.SaveBaseline(context.Background(), st.id, counts, rec.Timestamp); err != nil && e.logger != nil {
			e.logger.Warn("baseline save failed", "station_id", st.id, "err", err)
		}
	}
}
