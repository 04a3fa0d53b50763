package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scmmishra/tally/internal/db"
)

// DailySummary is the per-date rollup. Count is the authoritative total for
// VisitDate.
type DailySummary struct {
	ID            int64     `json:"id"`
	VisitDate     string    `json:"visit_date"`
	Count         int64     `json:"count"`
	LastIP        string    `json:"last_ip"`
	LastUserAgent string    `json:"last_user_agent"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// UpsertDailySummary increments the counter for date, creating the row with
// count 1 on the first visit, and returns the new count. It is a single
// statement so concurrent callers never lose an increment.
func UpsertDailySummary(ctx context.Context, d *db.DB, date, ip, userAgent string, now time.Time) (int64, error) {
	var count int64
	err := d.QueryRowContext(ctx, d.Rebind(`
		INSERT INTO visits (visit_date, count, last_ip, last_user_agent, created_at, updated_at)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(visit_date) DO UPDATE SET
			count = visits.count + 1,
			last_ip = excluded.last_ip,
			last_user_agent = excluded.last_user_agent,
			updated_at = excluded.updated_at
		RETURNING count`),
		date, ip, userAgent, now, now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("upsert daily summary: %w", err)
	}
	return count, nil
}

// DailyCount returns the count for date, or 0 when no visit was recorded.
func DailyCount(ctx context.Context, d *db.DB, date string) (int64, error) {
	var count int64
	err := d.QueryRowContext(ctx, d.Rebind(`SELECT count FROM visits WHERE visit_date = ?`), date).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("daily count: %w", err)
	}
	return count, nil
}

// LifetimeTotal sums every summary row. Cost grows with the number of days
// recorded, not the number of visits.
func LifetimeTotal(ctx context.Context, d *db.DB) (int64, error) {
	return TotalViewsSince(ctx, d, "")
}

// TotalViewsSince sums summary counts on or after since. An empty since
// matches every date.
func TotalViewsSince(ctx context.Context, d *db.DB, since string) (int64, error) {
	var total int64
	err := d.QueryRowContext(ctx, d.Rebind(
		`SELECT CAST(COALESCE(SUM(count), 0) AS BIGINT) FROM visits WHERE visit_date >= ?`,
	), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total views: %w", err)
	}
	return total, nil
}

// DailyCountsSince returns summary counts on or after since, oldest first.
// Days without a row are absent.
func DailyCountsSince(ctx context.Context, d *db.DB, since string) ([]DayCount, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(
		`SELECT visit_date, count FROM visits WHERE visit_date >= ? ORDER BY visit_date ASC`,
	), since)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	defer rows.Close()

	var results []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		results = append(results, dc)
	}
	return results, rows.Err()
}

// ListDailySummaries returns raw summary rows on or after since, newest first.
func ListDailySummaries(ctx context.Context, d *db.DB, since string, limit int) ([]DailySummary, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(`
		SELECT id, visit_date, count, last_ip, last_user_agent, created_at, updated_at
		FROM visits WHERE visit_date >= ?
		ORDER BY visit_date DESC LIMIT ?`),
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list daily summaries: %w", err)
	}
	defer rows.Close()

	var results []DailySummary
	for rows.Next() {
		var s DailySummary
		if err := rows.Scan(&s.ID, &s.VisitDate, &s.Count, &s.LastIP, &s.LastUserAgent, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}
