package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sentinel/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sentinel?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			event_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			station_id TEXT,
			customer_id TEXT,
			data_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE TABLE IF NOT EXISTS inventory_baseline (
			station_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (station_id, sku)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveEvent(ctx context.Context, ev model.AnomalyEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, event_id, event_name, station_id, customer_id, data_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.Timestamp.UTC(),
		ev.EventID,
		stringField(ev.Data, "event_name"),
		stringField(ev.Data, "station_id"),
		stringField(ev.Data, "customer_id"),
		encodeJSON(ev.Data),
	)
	return err
}

func (s *postgresStore) SaveBaseline(ctx context.Context, stationID string, counts map[string]int, takenAt time.Time) error {
	if s.db == nil || stationID == "" || len(counts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO inventory_baseline (station_id, sku, quantity, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (station_id, sku) DO UPDATE SET quantity = EXCLUDED.quantity, taken_at = EXCLUDED.taken_at`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for sku, qty := range counts {
		if _, err := stmt.ExecContext(ctx, stationID, sku, qty, takenAt.UTC()); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) LoadBaseline(ctx context.Context, stationID string) (map[string]int, time.Time, error) {
	if s.db == nil {
		return nil, time.Time{}, ErrNoBaseline
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sku, quantity, taken_at FROM inventory_baseline WHERE station_id = $1`, stationID)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	var takenAt time.Time
	for rows.Next() {
		var sku string
		var qty int
		var at time.Time
		if err := rows.Scan(&sku, &qty, &at); err != nil {
			return nil, time.Time{}, err
		}
		counts[sku] = qty
		if at.After(takenAt) {
			takenAt = at
		}
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	if len(counts) == 0 {
		return nil, time.Time{}, ErrNoBaseline
	}
	return counts, takenAt, nil
}
