package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/model"
)

// ErrUnknownDataset marks records whose dataset label resolves to no
// canonical stream kind. Such records are dropped before admission.
var ErrUnknownDataset = errors.New("unknown dataset label")

// Envelope is the upstream feed wire format: one JSON object per line.
type Envelope struct {
	Dataset   string `json:"dataset"`
	Sequence  int64  `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Event     struct {
		StationID  string          `json:"station_id"`
		CustomerID string          `json:"customer_id"`
		Status     string          `json:"status"`
		Data       json.RawMessage `json:"data"`
	} `json:"event"`
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseLine decodes one feed line into a normalized StreamRecord. Blank
// lines yield (nil, nil).
func (p *Parser) ParseLine(line string) (*model.StreamRecord, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	var env Envelope
	if err := json.Unmarshal([]byte(trim), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return p.Decode(&env)
}

func (p *Parser) Decode(env *Envelope) (*model.StreamRecord, error) {
	kind, ok := NormalizeDataset(env.Dataset)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, env.Dataset)
	}
	ts, err := ParseTimestamp(env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	rec := &model.StreamRecord{
		Sequence:  env.Sequence,
		Kind:      kind,
		StationID: strings.TrimSpace(env.Event.StationID),
		Status:    strings.TrimSpace(env.Event.Status),
		Timestamp: ts,
	}
	if rec.StationID == "" {
		return nil, errors.New("record missing station_id")
	}

	switch kind {
	case model.KindPOS:
		var pos model.POSPayload
		if len(env.Event.Data) > 0 {
			if err := json.Unmarshal(env.Event.Data, &pos); err != nil {
				return nil, fmt.Errorf("decode pos payload: %w", err)
			}
		}
		rec.POS = &pos
		rec.CustomerID = firstNonEmpty(pos.CustomerID, env.Event.CustomerID)
	case model.KindRFID:
		var rfid model.RFIDPayload
		if len(env.Event.Data) > 0 {
			if err := json.Unmarshal(env.Event.Data, &rfid); err != nil {
				return nil, fmt.Errorf("decode rfid payload: %w", err)
			}
		}
		rec.RFID = &rfid
		rec.CustomerID = env.Event.CustomerID
	case model.KindRecognition:
		var rg model.RecognitionPayload
		if len(env.Event.Data) > 0 {
			if err := json.Unmarshal(env.Event.Data, &rg); err != nil {
				return nil, fmt.Errorf("decode recognition payload: %w", err)
			}
		}
		rec.Recognition = &rg
		rec.CustomerID = env.Event.CustomerID
	case model.KindQueue:
		var q model.QueuePayload
		if len(env.Event.Data) > 0 {
			if err := json.Unmarshal(env.Event.Data, &q); err != nil {
				return nil, fmt.Errorf("decode queue payload: %w", err)
			}
		}
		rec.Queue = &q
		rec.CustomerID = env.Event.CustomerID
	case model.KindInventory:
		inv := map[string]int{}
		if len(env.Event.Data) > 0 {
			if err := json.Unmarshal(env.Event.Data, &inv); err != nil {
				return nil, fmt.Errorf("decode inventory payload: %w", err)
			}
		}
		rec.Inventory = inv
	}
	return rec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
