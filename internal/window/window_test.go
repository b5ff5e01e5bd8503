package window

import (
	"testing"
	"time"

	"sentinel/internal/model"
)

var base = time.Date(2025, 8, 13, 16, 0, 0, 0, time.UTC)

func rec(kind model.StreamKind, at time.Time) model.StreamRecord {
	return model.StreamRecord{Kind: kind, StationID: "SCC1", Timestamp: at}
}

func TestBufferEviction(t *testing.T) {
	b := NewBuffer(30 * time.Second)
	for i := 0; i < 5; i++ {
		b.Add(rec(model.KindRFID, base.Add(time.Duration(i)*10*time.Second)))
	}
	if b.Len() != 5 {
		t.Fatalf("len before eviction: %d", b.Len())
	}
	b.Evict(base.Add(40 * time.Second))
	// Records at +0s fall outside [now-30s, now]; +10s is exactly on the edge.
	if b.Len() != 4 {
		t.Fatalf("len after eviction: %d", b.Len())
	}
	// Eviction never resurrects: an older now must not grow the buffer.
	b.Evict(base.Add(20 * time.Second))
	if b.Len() != 4 {
		t.Fatalf("eviction not monotonic: %d", b.Len())
	}
}

func TestSnapshotBounds(t *testing.T) {
	s := NewStore("SCC1", 30*time.Second, 600*time.Second)
	s.Admit(rec(model.KindRFID, base))
	s.Admit(rec(model.KindRFID, base.Add(20*time.Second)))
	s.Admit(rec(model.KindRFID, base.Add(50*time.Second)))

	snap := s.Snapshot(base.Add(40*time.Second), 30*time.Second)
	got := snap.Kind(model.KindRFID)
	if len(got) != 1 {
		t.Fatalf("window records: %d", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(20 * time.Second)) {
		t.Fatalf("wrong record in window: %v", got[0].Timestamp)
	}
}

func TestPerKindRetention(t *testing.T) {
	s := NewStore("SCC1", 30*time.Second, 600*time.Second)
	s.Admit(rec(model.KindRFID, base))
	s.Admit(rec(model.KindPOS, base))
	s.EvictAll(base.Add(2 * time.Minute))

	snap := s.Snapshot(base.Add(2*time.Minute), 600*time.Second)
	if len(snap.Kind(model.KindRFID)) != 0 {
		t.Fatalf("rfid record survived past short retention")
	}
	if len(snap.Kind(model.KindPOS)) != 1 {
		t.Fatalf("pos record dropped before long retention")
	}
}

func TestLastSeen(t *testing.T) {
	s := NewStore("SCC1", 30*time.Second, 600*time.Second)
	if !s.LastSeen().IsZero() {
		t.Fatalf("last seen should start zero")
	}
	s.Admit(rec(model.KindPOS, base.Add(10*time.Second)))
	s.Admit(rec(model.KindQueue, base.Add(5*time.Second)))
	if !s.LastSeen().Equal(base.Add(10 * time.Second)) {
		t.Fatalf("last seen: %v", s.LastSeen())
	}
}

func TestSnapshotEmpty(t *testing.T) {
	s := NewStore("SCC1", 30*time.Second, 600*time.Second)
	if !s.Snapshot(base, 30*time.Second).Empty() {
		t.Fatalf("fresh store snapshot should be empty")
	}
	var nilSnap *Snapshot
	if !nilSnap.Empty() || nilSnap.Kind(model.KindPOS) != nil {
		t.Fatalf("nil snapshot accessors")
	}
}
