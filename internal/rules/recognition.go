package rules

import (
	"sentinel/internal/model"
)

// RecognitionAccuracy reports product-recognition predictions whose
// confidence falls strictly below the configured floor.
type RecognitionAccuracy struct{}

func (r *RecognitionAccuracy) Name() string { return model.EventLowRecognition }

func (r *RecognitionAccuracy) Kinds() []model.StreamKind {
	return []model.StreamKind{model.KindRecognition}
}

func (r *RecognitionAccuracy) Evaluate(in Input) ([]model.AnomalyCandidate, error) {
	rg := in.Record.Recognition
	if rg == nil {
		return nil, missingField(r.Name(), "recognition payload")
	}
	if rg.Accuracy >= in.Cfg.RecognitionAccuracyThreshold {
		return nil, nil
	}
	return []model.AnomalyCandidate{
		candidate(r.Name(), in.Record.StationID, in.Record.CustomerID, rg.PredictedSKU, in.Record.Timestamp, in.Cfg.CorrelationWindowShort, map[string]any{
			"predicted_sku": rg.PredictedSKU,
			"accuracy":      rg.Accuracy,
			"threshold":     in.Cfg.RecognitionAccuracyThreshold,
		}),
	}, nil
}
