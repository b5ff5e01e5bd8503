package rules

import (
	"strings"
	"time"

	"sentinel/internal/model"
	"sentinel/internal/session"
	"sentinel/internal/window"
)

// ScannerAvoidance flags SKUs the RFID reader saw in the scan area that
// never showed up in a POS transaction within the short horizon. An RFID
// reading must be at least ScanGracePeriod old before it counts, which
// gives a legitimate scan time to arrive.
type ScannerAvoidance struct{}

func (r *ScannerAvoidance) Name() string { return model.EventScannerAvoidance }

func (r *ScannerAvoidance) Kinds() []model.StreamKind {
	return []model.StreamKind{model.KindRFID, model.KindPOS}
}

func (r *ScannerAvoidance) Evaluate(in Input) ([]model.AnomalyCandidate, error) {
	if in.Record.Kind == model.KindRFID && in.Record.RFID != nil && in.Record.RFID.SKU == "" {
		return nil, missingField(r.Name(), "rfid.sku")
	}
	return r.detect(in.Short, in.Record.Timestamp, in.Sessions, in.Cfg.ScanGracePeriod, in.Cfg.CorrelationWindowShort), nil
}

func (r *ScannerAvoidance) Sweep(in SweepInput) []model.AnomalyCandidate {
	return r.detect(in.Short, in.Now, in.Sessions, in.Cfg.ScanGracePeriod, in.Cfg.CorrelationWindowShort)
}

func (r *ScannerAvoidance) detect(snap *window.Snapshot, now time.Time, sessions []session.Session, grace, horizon time.Duration) []model.AnomalyCandidate {
	if snap == nil {
		return nil
	}
	scanned := make(map[string]bool)
	for _, rec := range snap.Kind(model.KindPOS) {
		if rec.POS != nil && rec.POS.SKU != "" {
			scanned[rec.POS.SKU] = true
		}
	}

	var out []model.AnomalyCandidate
	seen := make(map[string]bool)
	for _, rec := range snap.Kind(model.KindRFID) {
		rfid := rec.RFID
		if rfid == nil || rfid.SKU == "" || !inScanArea(rfid.Location) {
			continue
		}
		if scanned[rfid.SKU] || seen[rfid.SKU] {
			continue
		}
		if now.Sub(rec.Timestamp) < grace {
			continue
		}
		seen[rfid.SKU] = true
		cust := rec.CustomerID
		if cust == "" && len(sessions) == 1 {
			cust = sessions[0].CustomerID
		}
		out = append(out, candidate(r.Name(), snap.StationID, cust, rfid.SKU, rec.Timestamp, horizon, map[string]any{
			"product_sku":      rfid.SKU,
			"epc":              rfid.EPC,
			"detection_method": "RFID without POS",
		}))
	}
	return out
}

func inScanArea(location string) bool {
	folded := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(location), "_", " "))
	return folded == "in scan area"
}
