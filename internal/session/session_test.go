package session

import (
	"testing"
	"time"

	"sentinel/internal/model"
)

var base = time.Date(2025, 8, 13, 16, 0, 0, 0, time.UTC)

func rec(customer string, at time.Time) model.StreamRecord {
	return model.StreamRecord{
		Kind:       model.KindPOS,
		StationID:  "SCC1",
		CustomerID: customer,
		Timestamp:  at,
	}
}

func newTracker() *Tracker {
	return NewTracker("SCC1", 300*time.Second, 1800*time.Second, 256)
}

func TestObserveOpensSession(t *testing.T) {
	tr := newTracker()
	s := tr.Observe(rec("C056", base))
	if s == nil {
		t.Fatalf("no session returned")
	}
	if s.State != StateActive || !s.StartedAt.Equal(base) {
		t.Fatalf("session: %+v", s)
	}
	if tr.Observe(rec("", base)) != nil {
		t.Fatalf("customer-less record opened a session")
	}
	if tr.Len() != 1 {
		t.Fatalf("session count: %d", tr.Len())
	}
}

func TestIdleTransition(t *testing.T) {
	tr := newTracker()
	tr.Observe(rec("C056", base))

	closed := tr.Sweep(base.Add(301 * time.Second))
	if len(closed) != 0 {
		t.Fatalf("idle sweep closed sessions: %d", len(closed))
	}
	if len(tr.Active()) != 0 {
		t.Fatalf("session still active past the idle timeout")
	}

	// Activity revives the session but keeps the original start time.
	s := tr.Observe(rec("C056", base.Add(400*time.Second)))
	if s.State != StateActive {
		t.Fatalf("revived state: %s", s.State)
	}
	if !s.StartedAt.Equal(base) {
		t.Fatalf("revival reset the start time: %v", s.StartedAt)
	}
}

func TestHardTimeoutCloses(t *testing.T) {
	tr := newTracker()
	tr.Observe(rec("C056", base))
	// Keep touching the session so only the hard ceiling can end it.
	tr.Observe(rec("C056", base.Add(1700*time.Second)))

	closed := tr.Sweep(base.Add(1801 * time.Second))
	if len(closed) != 1 || closed[0].State != StateClosed {
		t.Fatalf("hard timeout did not close: %+v", closed)
	}
	if tr.Len() != 0 {
		t.Fatalf("closed session not reclaimed")
	}

	// A new record from the same customer opens a fresh session.
	s := tr.Observe(rec("C056", base.Add(1900*time.Second)))
	if !s.StartedAt.Equal(base.Add(1900 * time.Second)) {
		t.Fatalf("fresh session start: %v", s.StartedAt)
	}
}

func TestCloseAll(t *testing.T) {
	tr := newTracker()
	tr.Observe(rec("C056", base))
	tr.Observe(rec("C057", base))
	closed := tr.CloseAll()
	if len(closed) != 2 || tr.Len() != 0 {
		t.Fatalf("close all: closed=%d remaining=%d", len(closed), tr.Len())
	}
}

func TestRecordCap(t *testing.T) {
	tr := NewTracker("SCC1", 300*time.Second, 1800*time.Second, 3)
	var s *Session
	for i := 0; i < 5; i++ {
		s = tr.Observe(rec("C056", base.Add(time.Duration(i)*time.Second)))
	}
	if len(s.Records) != 3 {
		t.Fatalf("record cap not applied: %d", len(s.Records))
	}
	if !s.LastActivity.Equal(base.Add(4 * time.Second)) {
		t.Fatalf("last activity: %v", s.LastActivity)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	tr := newTracker()
	s := tr.Observe(rec("C056", base))
	s.Records[0].CustomerID = "mutated"
	again := tr.Observe(rec("C056", base.Add(time.Second)))
	if again.Records[0].CustomerID != "C056" {
		t.Fatalf("snapshot shares backing storage with tracker")
	}
}
