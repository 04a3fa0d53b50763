package models

import (
	"context"
	"fmt"
	"time"

	"github.com/scmmishra/tally/internal/db"
)

// VisitEvent is one recorded page view. Rows are append-only.
type VisitEvent struct {
	ID               int64
	IP               string
	Country          string
	City             string
	Region           string
	Latitude         float64
	Longitude        float64
	Timezone         string
	UserAgent        string
	Referrer         string
	PageURL          string
	VisitDate        string
	SessionDuration  int
	ScreenResolution string
	ViewportSize     string
	OS               string
	DeviceType       string
	IsFinal          bool
	CreatedAt        time.Time
}

const insertVisitLog = `INSERT INTO visit_logs (
    ip, country, city, region, latitude, longitude, timezone, user_agent, referrer,
    page_url, visit_date, session_duration, screen_resolution, viewport_size,
    os, device_type, is_final, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (e *VisitEvent) args() []any {
	return []any{
		e.IP, e.Country, e.City, e.Region, e.Latitude, e.Longitude, e.Timezone,
		e.UserAgent, e.Referrer, e.PageURL, e.VisitDate, e.SessionDuration,
		e.ScreenResolution, e.ViewportSize, e.OS, e.DeviceType, e.IsFinal, e.CreatedAt,
	}
}

func InsertVisitLog(ctx context.Context, d *db.DB, e *VisitEvent) error {
	if _, err := d.ExecContext(ctx, d.Rebind(insertVisitLog), e.args()...); err != nil {
		return fmt.Errorf("insert visit log: %w", err)
	}
	return nil
}

// BatchInsertVisitLogs writes all events in one transaction.
func BatchInsertVisitLogs(ctx context.Context, d *db.DB, events []VisitEvent) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, d.Rebind(insertVisitLog))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		if _, err := stmt.ExecContext(ctx, events[i].args()...); err != nil {
			return fmt.Errorf("insert visit log: %w", err)
		}
	}

	return tx.Commit()
}

// LogCountsSince returns the number of visit_logs rows per date on or after since.
func LogCountsSince(ctx context.Context, d *db.DB, since string) (map[string]int64, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(
		`SELECT visit_date, COUNT(*) FROM visit_logs WHERE visit_date >= ? GROUP BY visit_date`,
	), since)
	if err != nil {
		return nil, fmt.Errorf("log counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var date string
		var n int64
		if err := rows.Scan(&date, &n); err != nil {
			return nil, fmt.Errorf("scan log count: %w", err)
		}
		counts[date] = n
	}
	return counts, rows.Err()
}
