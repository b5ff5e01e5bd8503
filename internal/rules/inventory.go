package rules

import (
	"sort"

	"sentinel/internal/model"
)

// InventoryDiscrepancy reconciles the latest inventory snapshot against
// the baseline snapshot minus POS sales recorded since the baseline was
// taken, over the long correlation horizon. Only absolute gaps strictly
// above the unit threshold fire.
type InventoryDiscrepancy struct{}

func (r *InventoryDiscrepancy) Name() string { return model.EventInventoryGap }

func (r *InventoryDiscrepancy) Kinds() []model.StreamKind {
	return []model.StreamKind{model.KindInventory}
}

func (r *InventoryDiscrepancy) Evaluate(in Input) ([]model.AnomalyCandidate, error) {
	latest := in.Record.Inventory
	if latest == nil {
		return nil, missingField(r.Name(), "inventory payload")
	}
	if in.Baseline == nil || in.Baseline.Counts == nil {
		// First snapshot of the run seeds the baseline; nothing to compare yet.
		return nil, nil
	}

	sold := make(map[string]int)
	if in.Long != nil {
		for _, rec := range in.Long.Kind(model.KindPOS) {
			if rec.POS == nil || rec.POS.SKU == "" {
				continue
			}
			if !rec.Timestamp.After(in.Baseline.TakenAt) {
				continue
			}
			sold[rec.POS.SKU]++
		}
	}

	skus := make([]string, 0, len(latest))
	for sku := range latest {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	var out []model.AnomalyCandidate
	for _, sku := range skus {
		base, ok := in.Baseline.Counts[sku]
		if !ok {
			continue
		}
		expected := base - sold[sku]
		gap := expected - latest[sku]
		if gap < 0 {
			gap = -gap
		}
		if gap <= in.Cfg.InventoryDiscrepancyThreshold {
			continue
		}
		out = append(out, candidate(r.Name(), in.Record.StationID, "", sku, in.Record.Timestamp, in.Cfg.CorrelationWindowLong, map[string]any{
			"SKU":                sku,
			"Expected_Inventory": expected,
			"Actual_Inventory":   latest[sku],
		}))
	}
	return out, nil
}
