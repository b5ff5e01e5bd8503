package window

import (
	"time"

	"sentinel/internal/model"
)

// Buffer holds buffered records for one (station, kind) pair. Eviction
// advances a head index and the slice is compacted once half of it is
// dead, keeping admission and eviction O(1) amortized.
type Buffer struct {
	retention time.Duration
	records   []model.StreamRecord
	head      int
}

func NewBuffer(retention time.Duration) *Buffer {
	return &Buffer{
		retention: retention,
		records:   make([]model.StreamRecord, 0, 64),
	}
}

func (b *Buffer) Add(rec model.StreamRecord) {
	b.records = append(b.records, rec)
}

// Evict drops records older than the retention horizon relative to now.
// Eviction is monotonic: a dropped record is never re-admitted.
func (b *Buffer) Evict(now time.Time) {
	cutoff := now.Add(-b.retention)
	for b.head < len(b.records) {
		if !b.records[b.head].Timestamp.Before(cutoff) {
			break
		}
		b.head++
	}
	if b.head > 0 && b.head*2 >= len(b.records) {
		b.records = append([]model.StreamRecord{}, b.records[b.head:]...)
		b.head = 0
	}
}

func (b *Buffer) Len() int {
	return len(b.records) - b.head
}

// view returns live records within [asOf-horizon, asOf].
func (b *Buffer) view(asOf time.Time, horizon time.Duration) []model.StreamRecord {
	low := asOf.Add(-horizon)
	var out []model.StreamRecord
	for i := b.head; i < len(b.records); i++ {
		ts := b.records[i].Timestamp
		if ts.Before(low) || ts.After(asOf) {
			continue
		}
		out = append(out, b.records[i])
	}
	return out
}

// Snapshot is a read-only, deterministic view of one station's buffers
// within [AsOf-Horizon, AsOf].
type Snapshot struct {
	StationID string
	AsOf      time.Time
	Horizon   time.Duration
	Records   map[model.StreamKind][]model.StreamRecord
}

func (s *Snapshot) Kind(kind model.StreamKind) []model.StreamRecord {
	if s == nil {
		return nil
	}
	return s.Records[kind]
}

// Empty reports whether no stream kind has records in the snapshot.
func (s *Snapshot) Empty() bool {
	if s == nil {
		return true
	}
	for _, recs := range s.Records {
		if len(recs) > 0 {
			return false
		}
	}
	return true
}

// Store owns the correlation buffers of one station. The inventory rule
// correlates POS sales against snapshots over the long horizon, so POS and
// inventory buffers retain long; the tactical kinds retain short.
type Store struct {
	stationID string
	buffers   map[model.StreamKind]*Buffer
	short     time.Duration
	long      time.Duration
	lastSeen  time.Time
}

func NewStore(stationID string, short, long time.Duration) *Store {
	retention := map[model.StreamKind]time.Duration{
		model.KindPOS:         long,
		model.KindInventory:   long,
		model.KindRFID:        short,
		model.KindRecognition: short,
		model.KindQueue:       short,
	}
	buffers := make(map[model.StreamKind]*Buffer, len(retention))
	for kind, d := range retention {
		buffers[kind] = NewBuffer(d)
	}
	return &Store{stationID: stationID, buffers: buffers, short: short, long: long}
}

func (s *Store) Admit(rec model.StreamRecord) {
	buf, ok := s.buffers[rec.Kind]
	if !ok {
		return
	}
	buf.Add(rec)
	buf.Evict(rec.Timestamp)
	if rec.Timestamp.After(s.lastSeen) {
		s.lastSeen = rec.Timestamp
	}
}

func (s *Store) EvictAll(now time.Time) {
	for _, buf := range s.buffers {
		buf.Evict(now)
	}
}

// LastSeen is the newest record timestamp admitted for this station.
func (s *Store) LastSeen() time.Time {
	return s.lastSeen
}

func (s *Store) Snapshot(asOf time.Time, horizon time.Duration) *Snapshot {
	snap := &Snapshot{
		StationID: s.stationID,
		AsOf:      asOf,
		Horizon:   horizon,
		Records:   make(map[model.StreamKind][]model.StreamRecord, len(s.buffers)),
	}
	for kind, buf := range s.buffers {
		if recs := buf.view(asOf, horizon); len(recs) > 0 {
			snap.Records[kind] = recs
		}
	}
	return snap
}
