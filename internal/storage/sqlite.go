package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sentinel/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:sentinel.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			station_id TEXT,
			customer_id TEXT,
			data_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE TABLE IF NOT EXISTS inventory_baseline (
			station_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			taken_at TEXT NOT NULL,
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

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.AnomalyEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, event_id, event_name, station_id, customer_id, data_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.EventID,
		stringField(ev.Data, "event_name"),
		stringField(ev.Data, "station_id"),
		stringField(ev.Data, "customer_id"),
		encodeJSON(ev.Data),
	)
	return err
}

func (s *sqliteStore) SaveBaseline(ctx context.Context, stationID string, counts map[string]int, takenAt time.Time) error {
	if s.db == nil || stationID == "" || len(counts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO inventory_baseline (station_id, sku, quantity, taken_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(station_id, sku) DO UPDATE SET quantity = excluded.quantity, taken_at = excluded.taken_at`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	at := takenAt.UTC().Format(time.RFC3339Nano)
	for sku, qty := range counts {
		if _, err := stmt.ExecContext(ctx, stationID, sku, qty, at); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadBaseline(ctx context.Context, stationID string) (map[string]int, time.Time, error) {
	if s.db == nil {
		return nil, time.Time{}, ErrNoBaseline
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sku, quantity, taken_at FROM inventory_baseline WHERE station_id = ?`, stationID)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	var takenAt time.Time
	for rows.Next() {
		var sku string
		var qty int
		var at string
		if err := rows.Scan(&sku, &qty, &at); err != nil {
			return nil, time.Time{}, err
		}
		counts[sku] = qty
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil && ts.After(takenAt) {
			takenAt = ts
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

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
