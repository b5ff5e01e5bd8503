package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/model"
)

// Store persists state that must survive a process restart: the emitted
// event journal and the per-station inventory baseline.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvent(ctx context.Context, ev model.AnomalyEvent) error
	SaveBaseline(ctx context.Context, stationID string, counts map[string]int, takenAt time.Time) error
	LoadBaseline(ctx context.Context, stationID string) (map[string]int, time.Time, error)
}

// ErrNoBaseline is returned when no baseline has been persisted for the
// station.
var ErrNoBaseline = errors.New("no persisted baseline")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
