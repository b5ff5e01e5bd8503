package rules

import (
	"sentinel/internal/model"
)

// BarcodeSwitching fires when product recognition and the POS disagree on
// what crossed the scanner inside the secondary correlation window. The
// candidate only stands when both SKUs sit in different catalog
// categories, which filters most recognition noise. An RFID EPC outside
// the catalog range of its claimed SKU is a second trigger path.
type BarcodeSwitching struct{}

func (r *BarcodeSwitching) Name() string { return model.EventBarcodeSwitching }

func (r *BarcodeSwitching) Kinds() []model.StreamKind {
	return []model.StreamKind{model.KindRecognition, model.KindPOS, model.KindRFID}
}

func (r *BarcodeSwitching) Evaluate(in Input) ([]model.AnomalyCandidate, error) {
	switch in.Record.Kind {
	case model.KindRFID:
		return r.checkEPC(in)
	default:
		return r.checkPrediction(in)
	}
}

// checkPrediction cross-matches recognition predictions against POS scans
// in the secondary snapshot. It runs on both kinds so the match is found
// no matter which record arrives second; dedup collapses the double fire.
func (r *BarcodeSwitching) checkPrediction(in Input) ([]model.AnomalyCandidate, error) {
	if in.Record.Kind == model.KindRecognition {
		if in.Record.Recognition == nil || in.Record.Recognition.PredictedSKU == "" {
			return nil, missingField(r.Name(), "recognition.predicted_product")
		}
	}
	if in.Secondary == nil {
		return nil, nil
	}
	var out []model.AnomalyCandidate
	for _, rg := range in.Secondary.Kind(model.KindRecognition) {
		if rg.Recognition == nil || rg.Recognition.PredictedSKU == "" {
			continue
		}
		predicted := rg.Recognition.PredictedSKU
		for _, pos := range in.Secondary.Kind(model.KindPOS) {
			if pos.POS == nil || pos.POS.SKU == "" || pos.POS.SKU == predicted {
				continue
			}
			// Same-category mismatches are treated as recognition noise.
			if in.Catalog != nil && in.Catalog.SameCategory(predicted, pos.POS.SKU) {
				continue
			}
			cust := firstNonEmptyID(pos.CustomerID, rg.CustomerID, in.Record.CustomerID)
			out = append(out, candidate(r.Name(), in.Record.StationID, cust, predicted+">"+pos.POS.SKU, rg.Timestamp, in.Cfg.BarcodeSwitchWindow, map[string]any{
				"actual_sku":  predicted,
				"scanned_sku": pos.POS.SKU,
			}))
		}
	}
	return out, nil
}

func (r *BarcodeSwitching) checkEPC(in Input) ([]model.AnomalyCandidate, error) {
	rfid := in.Record.RFID
	if rfid == nil || rfid.EPC == "" || rfid.SKU == "" {
		return nil, missingField(r.Name(), "rfid.epc and rfid.sku")
	}
	if in.Catalog == nil || in.Catalog.ValidEPC(rfid.EPC, rfid.SKU) {
		return nil, nil
	}
	return []model.AnomalyCandidate{
		candidate(r.Name(), in.Record.StationID, in.Record.CustomerID, rfid.EPC, in.Record.Timestamp, in.Cfg.BarcodeSwitchWindow, map[string]any{
			"epc":         rfid.EPC,
			"claimed_sku": rfid.SKU,
			"location":    rfid.Location,
		}),
	}, nil
}

func firstNonEmptyID(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
