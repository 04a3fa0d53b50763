package db

import (
	"context"
	"fmt"
)

// Migrate applies the dialect's schema. Every statement is idempotent.
func Migrate(ctx context.Context, d *DB) error {
	stmts := sqliteSchema
	if d.Dialect == Postgres {
		stmts = postgresSchema
	}
	for _, s := range stmts {
		if _, err := d.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS visits (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    visit_date       TEXT    NOT NULL UNIQUE,
    count            INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
    last_ip          TEXT    NOT NULL DEFAULT '',
    last_user_agent  TEXT    NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS visit_logs (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    ip                TEXT    NOT NULL,
    country           TEXT    NOT NULL DEFAULT 'Unknown',
    city              TEXT    NOT NULL DEFAULT 'Unknown',
    region            TEXT    NOT NULL DEFAULT 'Unknown',
    latitude          REAL,
    longitude         REAL,
    timezone          TEXT    NOT NULL DEFAULT 'UTC',
    user_agent        TEXT    NOT NULL DEFAULT '',
    referrer          TEXT    NOT NULL DEFAULT 'direct',
    page_url          TEXT    NOT NULL DEFAULT '/',
    visit_date        TEXT    NOT NULL,
    session_duration  INTEGER NOT NULL DEFAULT 0 CHECK (session_duration >= 0),
    screen_resolution TEXT    NOT NULL DEFAULT '',
    viewport_size     TEXT    NOT NULL DEFAULT '',
    os                TEXT    NOT NULL DEFAULT '',
    device_type       TEXT    NOT NULL DEFAULT '',
    is_final          INTEGER NOT NULL DEFAULT 0,
    created_at        DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_logs_visit_date ON visit_logs(visit_date)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_logs_ip ON visit_logs(ip)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_logs_country ON visit_logs(country)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS visits (
    id               BIGSERIAL PRIMARY KEY,
    visit_date       TEXT        NOT NULL UNIQUE,
    count            BIGINT      NOT NULL DEFAULT 0 CHECK (count >= 0),
    last_ip          TEXT        NOT NULL DEFAULT '',
    last_user_agent  TEXT        NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS visit_logs (
    id                BIGSERIAL PRIMARY KEY,
    ip                TEXT        NOT NULL,
    country           TEXT        NOT NULL DEFAULT 'Unknown',
    city              TEXT        NOT NULL DEFAULT 'Unknown',
    region            TEXT        NOT NULL DEFAULT 'Unknown',
    latitude          DOUBLE PRECISION,
    longitude         DOUBLE PRECISION,
    timezone          TEXT        NOT NULL DEFAULT 'UTC',
    user_agent        TEXT        NOT NULL DEFAULT '',
    referrer          TEXT        NOT NULL DEFAULT 'direct',
    page_url          TEXT        NOT NULL DEFAULT '/',
    visit_date        TEXT        NOT NULL,
    session_duration  INTEGER     NOT NULL DEFAULT 0 CHECK (session_duration >= 0),
    screen_resolution TEXT        NOT NULL DEFAULT '',
    viewport_size     TEXT        NOT NULL DEFAULT '',
    os                TEXT        NOT NULL DEFAULT '',
    device_type       TEXT        NOT NULL DEFAULT '',
    is_final          BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_logs_visit_date ON visit_logs(visit_date)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_logs_ip ON visit_logs(ip)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_logs_country ON visit_logs(country)`,
}
