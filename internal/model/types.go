package model

import (
	"encoding/json"
	"time"
)

type StreamKind string

const (
	KindPOS         StreamKind = "pos"
	KindRFID        StreamKind = "rfid"
	KindRecognition StreamKind = "recognition"
	KindQueue       StreamKind = "queue"
	KindInventory   StreamKind = "inventory"
)

// Event names emitted on the output sink. Spellings follow the upstream
// dataset contract.
const (
	EventScannerAvoidance  = "Scanner Avoidance"
	EventBarcodeSwitching  = "Barcode Switching"
	EventWeightDiscrepancy = "Weight Discrepancies"
	EventSystemCrash       = "Unexpected Systems Crash"
	EventLongQueue         = "Long Queue Length"
	EventLongWait          = "Long Wait Time"
	EventStaffingNeeds     = "Staffing Needs"
	EventInventoryGap      = "Inventory Discrepancy"
	EventLowRecognition    = "Low Recognition Accuracy"
)

// StatusCrash is the explicit crash marker carried on POS records.
const StatusCrash = "System Crash"

type POSPayload struct {
	CustomerID  string  `json:"customer_id"`
	SKU         string  `json:"sku"`
	ProductName string  `json:"product_name"`
	Barcode     string  `json:"barcode"`
	Price       float64 `json:"price"`
	WeightG     float64 `json:"weight_g"`
}

type RFIDPayload struct {
	EPC      string `json:"epc"`
	SKU      string `json:"sku"`
	Location string `json:"location"`
}

type RecognitionPayload struct {
	PredictedSKU string  `json:"predicted_product"`
	Accuracy     float64 `json:"accuracy"`
}

type QueuePayload struct {
	CustomerCount    int     `json:"customer_count"`
	AverageDwellTime float64 `json:"average_dwell_time"`
}

// StreamRecord is a normalized record from one of the five telemetry feeds.
// Exactly one payload field is set, matching Kind; inventory records carry
// the sku -> quantity map.
type StreamRecord struct {
	Sequence   int64
	Kind       StreamKind
	StationID  string
	CustomerID string
	Status     string
	Timestamp  time.Time

	POS         *POSPayload
	RFID        *RFIDPayload
	Recognition *RecognitionPayload
	Queue       *QueuePayload
	Inventory   map[string]int
}

// AnomalyCandidate is a rule's tentative detection before deduplication.
// Bucket is the suppression horizon used to round the timestamp when the
// dedup key is built. Entity names the thing the rule detected (a SKU, an
// EPC); entity-scoped candidates deduplicate per (station, entity), so
// one station can report several distinct entities in the same bucket
// while repeats of the same entity collapse regardless of how customer
// attribution shifts between detections.
type AnomalyCandidate struct {
	Name       string
	StationID  string
	CustomerID string
	Entity     string
	Timestamp  time.Time
	Bucket     time.Duration
	Attributes map[string]any
}

// AnomalyEvent is an emitted, immutable detection. Data holds event_name
// plus the kind-specific attributes.
type AnomalyEvent struct {
	Timestamp time.Time
	EventID   string
	Data      map[string]any
}

func (e AnomalyEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp string         `json:"timestamp"`
		EventID   string         `json:"event_id"`
		Data      map[string]any `json:"event_data"`
	}{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventID:   e.EventID,
		Data:      e.Data,
	})
}

func (e *AnomalyEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp string         `json:"timestamp"`
		EventID   string         `json:"event_id"`
		Data      map[string]any `json:"event_data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return err
	}
	e.Timestamp = ts
	e.EventID = raw.EventID
	e.Data = raw.Data
	return nil
}
