package rules

import (
	"sentinel/internal/model"
)

// SystemCrash triggers on the explicit crash status carried by POS
// records, and on silence: a previously active station that produced no
// record on any stream during the short horizon. The absence path runs on
// the periodic sweep using the station's last-seen timestamp.
type SystemCrash struct{}

func (r *SystemCrash) Name() string { return model.EventSystemCrash }

func (r *SystemCrash) Kinds() []model.StreamKind {
	return []model.StreamKind{model.KindPOS}
}

func (r *SystemCrash) Evaluate(in Input) ([]model.AnomalyCandidate, error) {
	if in.Record.Status != model.StatusCrash {
		return nil, nil
	}
	return []model.AnomalyCandidate{
		candidate(r.Name(), in.Record.StationID, "", "", in.Record.Timestamp, in.Cfg.CorrelationWindowShort, map[string]any{
			"duration_seconds": 180,
			"detection_method": "POS crash status",
		}),
	}, nil
}

func (r *SystemCrash) Sweep(in SweepInput) []model.AnomalyCandidate {
	if in.CrashReported || in.LastSeen.IsZero() {
		return nil
	}
	silence := in.Now.Sub(in.LastSeen)
	if silence <= in.Cfg.CorrelationWindowShort {
		return nil
	}
	// Anchor the timestamp at the moment the horizon expired so repeated
	// sweeps over the same outage produce one dedup key.
	detectedAt := in.LastSeen.Add(in.Cfg.CorrelationWindowShort)
	return []model.AnomalyCandidate{
		candidate(r.Name(), in.StationID, "", "", detectedAt, in.Cfg.CorrelationWindowShort, map[string]any{
			"duration_seconds": int(silence.Seconds()),
			"detection_method": "No activity across streams",
		}),
	}
}
