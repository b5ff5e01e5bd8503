package session

import (
	"time"

	"sentinel/internal/model"
)

type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
	StateClosed State = "closed"
)

// Session associates the records one customer contributes at one station.
// StartedAt is fixed at creation and survives idle/active flapping; only a
// close (crash signal or hard ceiling) ends the lifecycle.
type Session struct {
	StationID    string
	CustomerID   string
	State        State
	StartedAt    time.Time
	LastActivity time.Time
	Records      []model.StreamRecord
}

func (s *Session) snapshot() Session {
	cp := *s
	cp.Records = append([]model.StreamRecord(nil), s.Records...)
	return cp
}

// Tracker runs the session lifecycle for one station. Records without a
// customer id never create or touch a session.
type Tracker struct {
	stationID   string
	idleTimeout time.Duration
	hardTimeout time.Duration
	recordCap   int
	sessions    map[string]*Session
}

func NewTracker(stationID string, idleTimeout, hardTimeout time.Duration, recordCap int) *Tracker {
	if recordCap <= 0 {
		recordCap = 256
	}
	return &Tracker{
		stationID:   stationID,
		idleTimeout: idleTimeout,
		hardTimeout: hardTimeout,
		recordCap:   recordCap,
		sessions:    make(map[string]*Session),
	}
}

// Observe admits a customer-bearing record: it opens a session on first
// contact, revives an idle one without touching its start time, and
// appends the record up to the cap. Returns a read-only snapshot, or nil
// for customer-less records.
func (t *Tracker) Observe(rec model.StreamRecord) *Session {
	if rec.CustomerID == "" {
		return nil
	}
	s, ok := t.sessions[rec.CustomerID]
	if !ok || s.State == StateClosed {
		s = &Session{
			StationID:  t.stationID,
			CustomerID: rec.CustomerID,
			State:      StateActive,
			StartedAt:  rec.Timestamp,
		}
		t.sessions[rec.CustomerID] = s
	}
	s.State = StateActive
	s.LastActivity = rec.Timestamp
	if len(s.Records) < t.recordCap {
		s.Records = append(s.Records, rec)
	}
	snap := s.snapshot()
	return &snap
}

// Active returns snapshots of all sessions currently in the active state.
func (t *Tracker) Active() []Session {
	var out []Session
	for _, s := range t.sessions {
		if s.State == StateActive {
			out = append(out, s.snapshot())
		}
	}
	return out
}

// Sweep applies the idle and hard timeouts as of now and reclaims closed
// sessions. Returns snapshots of the sessions closed by this sweep.
func (t *Tracker) Sweep(now time.Time) []Session {
	var closed []Session
	for id, s := range t.sessions {
		if t.hardTimeout > 0 && now.Sub(s.StartedAt) > t.hardTimeout {
			s.State = StateClosed
			closed = append(closed, s.snapshot())
			delete(t.sessions, id)
			continue
		}
		if s.State == StateActive && t.idleTimeout > 0 && now.Sub(s.LastActivity) > t.idleTimeout {
			s.State = StateIdle
		}
	}
	return closed
}

// CloseAll terminates every session at the station, e.g. on a crash
// signal. Closed sessions are reclaimed immediately.
func (t *Tracker) CloseAll() []Session {
	var closed []Session
	for id, s := range t.sessions {
		s.State = StateClosed
		closed = append(closed, s.snapshot())
		delete(t.sessions, id)
	}
	return closed
}

func (t *Tracker) Len() int {
	return len(t.sessions)
}
