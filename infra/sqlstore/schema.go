package sqlstore

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL DEFAULT '',
		driver_name TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stops (
		id TEXT PRIMARY KEY,
		route_id TEXT NOT NULL REFERENCES routes(id),
		sequence INTEGER NOT NULL,
		status TEXT NOT NULL,
		on_the_way_time TEXT,
		arrival_time TEXT,
		completion_time TEXT,
		driver_id TEXT NOT NULL DEFAULT '',
		driver_name TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL DEFAULT '',
		deleted_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS stops_route_sequence ON stops (route_id, sequence)`,
	`CREATE TABLE IF NOT EXISTS safety_checks (
		id TEXT NOT NULL,
		route_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		type TEXT NOT NULL,
		day TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (route_id, driver_id, type, day)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_kpis (
		driver_id TEXT NOT NULL,
		date TEXT NOT NULL,
		stops_total INTEGER NOT NULL,
		stops_completed INTEGER NOT NULL,
		total_delivered DOUBLE PRECISION NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (driver_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS admin_notes (
		id TEXT PRIMARY KEY,
		route_id TEXT NOT NULL,
		stop_id TEXT NOT NULL DEFAULT '',
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS admin_notes_route ON admin_notes (route_id, created_at)`,
}

// InitSchema creates every table and index in one transaction.
func (s *Store) InitSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit: %w", err)
	}
	return nil
}
