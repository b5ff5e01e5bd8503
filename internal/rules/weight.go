package rules

import (
	"math"

	"sentinel/internal/model"
)

// WeightDiscrepancy compares the observed weight of a POS scan against the
// catalog expectation. The relative-error threshold is strict: exactly at
// the tolerance is not an anomaly.
type WeightDiscrepancy struct{}

func (r *WeightDiscrepancy) Name() string { return model.EventWeightDiscrepancy }

func (r *WeightDiscrepancy) Kinds() []model.StreamKind {
	return []model.StreamKind{model.KindPOS}
}

func (r *WeightDiscrepancy) Evaluate(in Input) ([]model.AnomalyCandidate, error) {
	pos := in.Record.POS
	if pos == nil || pos.SKU == "" {
		return nil, missingField(r.Name(), "pos.sku")
	}
	if pos.WeightG <= 0 {
		return nil, missingField(r.Name(), "pos.weight_g")
	}
	if in.Catalog == nil {
		return nil, nil
	}
	product, ok := in.Catalog.Lookup(pos.SKU)
	if !ok || product.WeightG <= 0 {
		return nil, nil
	}
	relErr := math.Abs(pos.WeightG-product.WeightG) / product.WeightG
	if relErr <= in.Cfg.WeightTolerance {
		return nil, nil
	}
	return []model.AnomalyCandidate{
		candidate(r.Name(), in.Record.StationID, in.Record.CustomerID, pos.SKU, in.Record.Timestamp, in.Cfg.CorrelationWindowShort, map[string]any{
			"product_sku":       pos.SKU,
			"expected_weight":   product.WeightG,
			"actual_weight":     pos.WeightG,
			"deviation_percent": math.Round(relErr*10000) / 100,
		}),
	}, nil
}
