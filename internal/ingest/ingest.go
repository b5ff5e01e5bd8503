package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/model"
)

// Stats counts ingest outcomes across all sources.
type Stats struct {
	Received      atomic.Int64
	Dropped       atomic.Int64
	UnknownLabels atomic.Int64
}

// Queue forwards normalized records to the engine through a bounded
// channel. When the channel is full the configured backpressure policy
// decides between stalling the source and discarding the oldest record.
type Queue struct {
	out    chan model.StreamRecord
	policy string
	logger *slog.Logger
	stats  *Stats
}

func NewQueue(cfg config.IngestConfig, logger *slog.Logger) *Queue {
	buffer := cfg.ChannelBuffer
	if buffer <= 0 {
		buffer = 10000
	}
	policy := cfg.Backpressure
	if policy == "" {
		policy = config.BackpressureBlock
	}
	return &Queue{
		out:    make(chan model.StreamRecord, buffer),
		policy: policy,
		logger: logger,
		stats:  &Stats{},
	}
}

func (q *Queue) Records() <-chan model.StreamRecord {
	return q.out
}

func (q *Queue) Stats() *Stats {
	return q.stats
}

func (q *Queue) Send(ctx context.Context, rec model.StreamRecord) bool {
	if q.policy == config.BackpressureDropOldest {
		for {
			select {
			case q.out <- rec:
				q.stats.Received.Add(1)
				return true
			case <-ctx.Done():
				return false
			default:
			}
			select {
			case old := <-q.out:
				q.stats.Dropped.Add(1)
				if q.logger != nil {
					q.logger.Warn("ingest queue full, dropping oldest record",
						"station_id", old.StationID, "kind", old.Kind)
				}
			default:
			}
		}
	}
	select {
	case q.out <- rec:
		q.stats.Received.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

// ParseAndSend runs one raw feed line through the parser and forwards the
// result. Unknown labels and malformed lines are dropped and logged.
func (q *Queue) ParseAndSend(ctx context.Context, parser *Parser, line, source string) {
	rec, err := parser.ParseLine(line)
	if err != nil {
		q.stats.UnknownLabels.Add(1)
		if q.logger != nil {
			q.logger.Warn("dropping feed record", "source", source, "err", err)
		}
		return
	}
	if rec == nil {
		return
	}
	q.Send(ctx, *rec)
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
