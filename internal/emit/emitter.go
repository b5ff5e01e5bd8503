package emit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/model"
)

// Journal is an optional durable mirror of emitted events.
type Journal interface {
	SaveEvent(ctx context.Context, ev model.AnomalyEvent) error
}

// Emitter collapses duplicate candidates, assigns strictly increasing
// event ids and appends each surviving event to the sink synchronously.
// Ids are a per-run counter starting at E001 with no gaps and no reuse.
type Emitter struct {
	mu      sync.Mutex
	seq     int64
	dedupe  *DedupeCache
	sink    Sink
	store   *Store
	journal Journal
	logger  *slog.Logger

	retryAttempts int
	retryBackoff  time.Duration
}

func NewEmitter(sink Sink, cfg config.SinkConfig, store *Store, journal Journal, logger *slog.Logger) *Emitter {
	return &Emitter{
		dedupe:        NewDedupeCache(),
		sink:          sink,
		store:         store,
		journal:       journal,
		logger:        logger,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
	}
}

// Emit processes candidates in order. A sink failure is retried with
// backoff; exhausting the retries is fatal, because silently dropping a
// detected anomaly is unacceptable.
func (e *Emitter) Emit(candidates []model.AnomalyCandidate) error {
	for _, cand := range candidates {
		if err := e.emitOne(cand); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) emitOne(cand model.AnomalyCandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dedupe.Seen(Key(cand), time.Now().UTC(), cand.Bucket) {
		return nil
	}
	e.seq++
	ev := model.AnomalyEvent{
		Timestamp: cand.Timestamp,
		EventID:   fmt.Sprintf("E%03d", e.seq),
		Data:      buildData(cand),
	}
	if err := e.appendWithRetry(ev); err != nil {
		return fmt.Errorf("sink append %s: %w", ev.EventID, err)
	}
	if e.store != nil {
		e.store.Add(ev)
	}
	if e.journal != nil {
		if err := e.journal.SaveEvent(context.Background(), ev); err != nil && e.logger != nil {
			e.logger.Warn("event journal write failed", "event_id", ev.EventID, "err", err)
		}
	}
	if e.logger != nil {
		e.logger.Info("anomaly event emitted",
			"event_id", ev.EventID,
			"event_name", cand.Name,
			"station_id", cand.StationID,
		)
	}
	return nil
}

func (e *Emitter) appendWithRetry(ev model.AnomalyEvent) error {
	var err error
	attempts := e.retryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(e.retryBackoff * time.Duration(i))
		}
		if err = e.sink.Append(ev); err == nil {
			return nil
		}
		if e.logger != nil {
			e.logger.Warn("sink append failed, retrying", "event_id", ev.EventID, "attempt", i+1, "err", err)
		}
	}
	return err
}

// Sequence returns the id counter value, i.e. the number of events
// emitted so far in this run.
func (e *Emitter) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

func (e *Emitter) Close() error {
	return e.sink.Close()
}

func buildData(cand model.AnomalyCandidate) map[string]any {
	data := make(map[string]any, len(cand.Attributes)+3)
	data["event_name"] = cand.Name
	if cand.StationID != "" {
		data["station_id"] = cand.StationID
	}
	if cand.CustomerID != "" {
		data["customer_id"] = cand.CustomerID
	}
	for k, v := range cand.Attributes {
		data[k] = v
	}
	return data
}
