package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		role        TEXT NOT NULL,
		location_id TEXT NOT NULL DEFAULT '',
		deleted_at  TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		id                      TEXT PRIMARY KEY,
		creator_id              TEXT NOT NULL,
		carrier_id              TEXT NOT NULL DEFAULT '',
		destination_location_id TEXT NOT NULL DEFAULT '',
		status                  TEXT NOT NULL,
		estimated_delivery_time TIMESTAMP NOT NULL,
		planned_units           INTEGER NOT NULL DEFAULT 0,
		arrival_notified        INTEGER NOT NULL DEFAULT 0,
		version                 INTEGER NOT NULL DEFAULT 1,
		deleted_at              TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id         TEXT PRIMARY KEY,
		plan_id    TEXT NOT NULL REFERENCES plans(id),
		carrier_id TEXT NOT NULL,
		status     TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		version    INTEGER NOT NULL DEFAULT 1,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id           TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		status       TEXT NOT NULL,
		plan_id      TEXT NOT NULL REFERENCES plans(id),
		carrier_id   TEXT NOT NULL DEFAULT '',
		warehouse_id TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL,
		resolved_at  TIMESTAMP,
		version      INTEGER NOT NULL DEFAULT 1,
		deleted_at   TIMESTAMP
	)`,
	// One OPEN incident per plan and type. This index is the hard backstop
	// behind the find-then-insert dedup check under concurrent triggers.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_open
		ON incidents(plan_id, type)
		WHERE status = 'OPEN' AND deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_plans_eta
		ON plans(status, estimated_delivery_time)
		WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_users_role
		ON users(role)
		WHERE deleted_at IS NULL`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}
