package rules

import (
	"time"

	"sentinel/internal/model"
)

// QueueMonitor watches queue samples for breached length and dwell-time
// thresholds. Both are strict: a count equal to the threshold is fine. A
// length breach also emits a companion staffing recommendation.
type QueueMonitor struct{}

func (r *QueueMonitor) Name() string { return model.EventLongQueue }

func (r *QueueMonitor) Kinds() []model.StreamKind {
	return []model.StreamKind{model.KindQueue}
}

func (r *QueueMonitor) Evaluate(in Input) ([]model.AnomalyCandidate, error) {
	q := in.Record.Queue
	if q == nil {
		return nil, missingField(r.Name(), "queue payload")
	}
	station := in.Record.StationID
	ts := in.Record.Timestamp
	bucket := in.Cfg.CorrelationWindowShort

	var out []model.AnomalyCandidate
	if q.CustomerCount > in.Cfg.QueueLengthThreshold {
		out = append(out, candidate(model.EventLongQueue, station, "", "", ts, bucket, map[string]any{
			"num_of_customers": q.CustomerCount,
			"threshold":        in.Cfg.QueueLengthThreshold,
		}))
		out = append(out, candidate(model.EventStaffingNeeds, station, "", "", ts, bucket, map[string]any{
			"staff_type": "Cashier",
			"priority":   "high",
			"reason":     "Long queue detected",
		}))
	}
	if time.Duration(q.AverageDwellTime*float64(time.Second)) > in.Cfg.WaitTimeThreshold {
		out = append(out, candidate(model.EventLongWait, station, in.Record.CustomerID, "", ts, bucket, map[string]any{
			"wait_time_seconds": q.AverageDwellTime,
			"threshold":         in.Cfg.WaitTimeThreshold.Seconds(),
		}))
	}
	return out, nil
}
