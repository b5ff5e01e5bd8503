// Package rules holds the detection rules. Each rule is a pure function of
// window/session snapshots plus the static catalog; all mutable state lives
// in the engine and is handed in per evaluation.
package rules

import (
	"errors"
	"fmt"
	"time"

	"sentinel/internal/catalog"
	"sentinel/internal/config"
	"sentinel/internal/model"
	"sentinel/internal/session"
	"sentinel/internal/window"
)

// ErrMissingField marks a record that lacks a field the rule needs. The
// engine logs it at warning level and moves on; it is never fatal.
var ErrMissingField = errors.New("record missing required field")

func missingField(rule, field string) error {
	return fmt.Errorf("%w: rule %s needs %s", ErrMissingField, rule, field)
}

// Baseline is the initial inventory snapshot the discrepancy rule compares
// the latest snapshot against.
type Baseline struct {
	Counts  map[string]int
	TakenAt time.Time
}

// Input is the evaluation context for one incoming record. Sessions
// holds the station's active sessions; rules attribute customers through
// it when the record itself carries none.
type Input struct {
	Record    model.StreamRecord
	Short     *window.Snapshot
	Secondary *window.Snapshot
	Long      *window.Snapshot
	Sessions  []session.Session
	Baseline  *Baseline
	Catalog   *catalog.Catalog
	Cfg       config.DetectionConfig
}

// SweepInput is the context for periodic absence-based evaluation of one
// station.
type SweepInput struct {
	StationID     string
	Now           time.Time
	Short         *window.Snapshot
	LastSeen      time.Time
	CrashReported bool
	Sessions      []session.Session
	Catalog       *catalog.Catalog
	Cfg           config.DetectionConfig
}

// Rule is evaluated incrementally: only when the incoming record's kind is
// in Kinds() for the record's station.
type Rule interface {
	Name() string
	Kinds() []model.StreamKind
	Evaluate(in Input) ([]model.AnomalyCandidate, error)
}

// Sweeper is implemented by rules that also trigger on absence and must
// run on the periodic sweep.
type Sweeper interface {
	Sweep(in SweepInput) []model.AnomalyCandidate
}

// Default returns the full rule set in evaluation order.
func Default() []Rule {
	return []Rule{
		&ScannerAvoidance{},
		&BarcodeSwitching{},
		&WeightDiscrepancy{},
		&SystemCrash{},
		&QueueMonitor{},
		&RecognitionAccuracy{},
		&InventoryDiscrepancy{},
	}
}

// candidate builds a detection. entity is the per-candidate dedup
// discriminator (the SKU or EPC the rule flagged); rules whose events are
// one-per-station, like queue length or a crash, pass it empty.
func candidate(name, stationID, customerID, entity string, ts time.Time, bucket time.Duration, attrs map[string]any) model.AnomalyCandidate {
	return model.AnomalyCandidate{
		Name:       name,
		StationID:  stationID,
		CustomerID: customerID,
		Entity:     entity,
		Timestamp:  ts,
		Bucket:     bucket,
		Attributes: attrs,
	}
}
