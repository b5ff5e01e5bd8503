package emit

import (
	"strconv"
	"strings"
	"time"

	"sentinel/internal/model"
)

// DedupeCache remembers suppression keys it has admitted. Entries expire
// after their bucket duration; the map is compacted once it grows past a
// soft cap.
type DedupeCache struct {
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

// Key builds the suppression key for a candidate: kind, station, scope
// and the candidate timestamp rounded down to its bucket. Entity-scoped
// candidates suppress per detected entity at the station; the customer is
// deliberately left out of their key, since attribution can change
// between detections of the same entity. Candidates without an entity
// scope per customer, or per station when no customer is attached.
func Key(c model.AnomalyCandidate) string {
	scope := c.Entity
	if scope == "" {
		scope = c.CustomerID
	}
	if scope == "" {
		scope = "station"
	}
	bucket := int64(0)
	if c.Bucket > 0 {
		bucket = c.Timestamp.UnixNano() / int64(c.Bucket)
	}
	return strings.Join([]string{c.Name, c.StationID, scope, strconv.FormatInt(bucket, 10)}, "|")
}

// Seen records the key and reports whether it was already present within
// ttl. The first caller wins, so the earliest candidate of a bucket is
// the one that gets emitted.
func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	if ts, ok := d.items[key]; ok {
		if ttl <= 0 || now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
