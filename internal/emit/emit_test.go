package emit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/model"
)

var base = time.Date(2025, 8, 13, 16, 0, 0, 0, time.UTC)

func cand(name, station, customer string, ts time.Time) model.AnomalyCandidate {
	return model.AnomalyCandidate{
		Name:       name,
		StationID:  station,
		CustomerID: customer,
		Timestamp:  ts,
		Bucket:     30 * time.Second,
		Attributes: map[string]any{"product_sku": "PRD_F_14"},
	}
}

func newEmitter(sink Sink) *Emitter {
	return NewEmitter(sink, config.SinkConfig{RetryAttempts: 1}, nil, nil, nil)
}

func TestEmitContiguousIDs(t *testing.T) {
	var buf bytes.Buffer
	e := newEmitter(NewWriterSink(&buf))

	err := e.Emit([]model.AnomalyCandidate{
		cand(model.EventScannerAvoidance, "SCC1", "C056", base),
		cand(model.EventWeightDiscrepancy, "SCC2", "C057", base),
		cand(model.EventLongQueue, "SCC3", "", base),
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var ids []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var ev model.AnomalyEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		ids = append(ids, ev.EventID)
	}
	want := []string{"E001", "E002", "E003"}
	if len(ids) != len(want) {
		t.Fatalf("event count: %d", len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("id %d: got %s want %s", i, ids[i], want[i])
		}
	}
	if e.Sequence() != 3 {
		t.Fatalf("sequence: %d", e.Sequence())
	}
}

func TestEmitDeduplicates(t *testing.T) {
	var buf bytes.Buffer
	e := newEmitter(NewWriterSink(&buf))

	c := cand(model.EventScannerAvoidance, "SCC1", "C056", base)
	if err := e.Emit([]model.AnomalyCandidate{c, c, c}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if e.Sequence() != 1 {
		t.Fatalf("duplicates not collapsed: %d events", e.Sequence())
	}

	// Same event in the next bucket is a fresh occurrence.
	c2 := c
	c2.Timestamp = base.Add(c.Bucket)
	if err := e.Emit([]model.AnomalyCandidate{c2}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if e.Sequence() != 2 {
		t.Fatalf("next bucket suppressed: %d events", e.Sequence())
	}
}

func TestEmitOutputFormat(t *testing.T) {
	var buf bytes.Buffer
	e := newEmitter(NewWriterSink(&buf))
	if err := e.Emit([]model.AnomalyCandidate{cand(model.EventScannerAvoidance, "SCC1", "C056", base)}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"timestamp", "event_id", "event_data"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("output missing %s: %v", key, raw)
		}
	}
	data := raw["event_data"].(map[string]any)
	if data["event_name"] != model.EventScannerAvoidance {
		t.Fatalf("event_name: %v", data["event_name"])
	}
	if data["station_id"] != "SCC1" || data["customer_id"] != "C056" {
		t.Fatalf("scope fields: %v", data)
	}
	if data["product_sku"] != "PRD_F_14" {
		t.Fatalf("attributes not flattened: %v", data)
	}
}

func TestEmitDistinctEntities(t *testing.T) {
	var buf bytes.Buffer
	e := newEmitter(NewWriterSink(&buf))

	a := cand(model.EventScannerAvoidance, "SCC1", "C056", base)
	a.Entity = "PRD_T_03"
	b := cand(model.EventScannerAvoidance, "SCC1", "C056", base)
	b.Entity = "PRD_F_14"
	if err := e.Emit([]model.AnomalyCandidate{a, b}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if e.Sequence() != 2 {
		t.Fatalf("distinct entities collapsed: %d events", e.Sequence())
	}
}

func TestDedupeKeyEntityScope(t *testing.T) {
	a := cand(model.EventScannerAvoidance, "SCC1", "C056", base)
	a.Entity = "PRD_T_03"
	b := cand(model.EventScannerAvoidance, "SCC1", "C056", base)
	b.Entity = "PRD_F_14"
	if Key(a) == Key(b) {
		t.Fatalf("distinct entities share a key")
	}
	// Attribution may shift between detections of the same entity; the
	// key must not move with it.
	c := a
	c.CustomerID = ""
	if Key(a) != Key(c) {
		t.Fatalf("entity key depends on customer attribution")
	}
	d := a
	d.StationID = "SCC2"
	if Key(a) == Key(d) {
		t.Fatalf("entity key ignores the station")
	}
}

func TestDedupeKeyScopes(t *testing.T) {
	withCustomer := cand(model.EventLongQueue, "SCC1", "C056", base)
	stationScoped := cand(model.EventLongQueue, "SCC1", "", base)
	if Key(withCustomer) == Key(stationScoped) {
		t.Fatalf("customer and station scope share a key")
	}
	otherStation := cand(model.EventLongQueue, "SCC2", "", base)
	if Key(stationScoped) == Key(otherStation) {
		t.Fatalf("stations share a key")
	}
	sameBucket := cand(model.EventLongQueue, "SCC1", "", base.Add(time.Second))
	if Key(stationScoped) != Key(sameBucket) {
		t.Fatalf("same bucket should share a key")
	}
}

type failingSink struct {
	failures int
	appends  int
}

func (s *failingSink) Append(model.AnomalyEvent) error {
	s.appends++
	if s.appends <= s.failures {
		return errors.New("disk full")
	}
	return nil
}

func (s *failingSink) Close() error { return nil }

func TestEmitRetriesSink(t *testing.T) {
	sink := &failingSink{failures: 2}
	e := NewEmitter(sink, config.SinkConfig{RetryAttempts: 3, RetryBackoff: time.Millisecond}, nil, nil, nil)
	if err := e.Emit([]model.AnomalyCandidate{cand(model.EventLongQueue, "SCC1", "", base)}); err != nil {
		t.Fatalf("emit should recover within retry budget: %v", err)
	}
	if sink.appends != 3 {
		t.Fatalf("append attempts: %d", sink.appends)
	}

	exhausted := &failingSink{failures: 10}
	e = NewEmitter(exhausted, config.SinkConfig{RetryAttempts: 2, RetryBackoff: time.Millisecond}, nil, nil, nil)
	if err := e.Emit([]model.AnomalyCandidate{cand(model.EventLongWait, "SCC1", "", base)}); err == nil {
		t.Fatalf("exhausted retries should surface an error")
	}
}

func TestStoreBounded(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(model.AnomalyEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			EventID:   "E00" + string(rune('1'+i)),
		})
	}
	if s.Len() != 3 {
		t.Fatalf("store not bounded: %d", s.Len())
	}
	got := s.List(0)
	if got[0].EventID != "E003" || got[2].EventID != "E005" {
		t.Fatalf("oldest not evicted: %v, %v", got[0].EventID, got[2].EventID)
	}
	since := s.Since(base.Add(4 * time.Second))
	if len(since) != 1 || since[0].EventID != "E005" {
		t.Fatalf("since filter: %v", since)
	}
}
