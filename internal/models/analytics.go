package models

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scmmishra/tally/internal/db"
)

// Window queries take an inclusive ISO since date. Because every ISO date
// sorts after the empty string, since == "" selects all time.

type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

type PageCount struct {
	Page  string `json:"page"`
	Count int64  `json:"count"`
}

// ValueCount is a grouped count over a raw column (referrer, user agent,
// device type). Callers bucket the values.
type ValueCount struct {
	Value string
	Count int64
}

// VisitorActivity is one IP's footprint: its visits inside the window and the
// date it was first seen at all.
type VisitorActivity struct {
	IP        string
	Visits    int64
	FirstSeen string
}

func UniqueVisitorsSince(ctx context.Context, d *db.DB, since string) (int64, error) {
	var n int64
	err := d.QueryRowContext(ctx, d.Rebind(
		`SELECT COUNT(DISTINCT ip) FROM visit_logs WHERE visit_date >= ?`,
	), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unique visitors: %w", err)
	}
	return n, nil
}

func VisitorActivitySince(ctx context.Context, d *db.DB, since string) ([]VisitorActivity, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(`
		SELECT v.ip, COUNT(*),
			(SELECT MIN(f.visit_date) FROM visit_logs f WHERE f.ip = v.ip)
		FROM visit_logs v
		WHERE v.visit_date >= ?
		GROUP BY v.ip`), since)
	if err != nil {
		return nil, fmt.Errorf("visitor activity: %w", err)
	}
	defer rows.Close()

	var results []VisitorActivity
	for rows.Next() {
		var va VisitorActivity
		if err := rows.Scan(&va.IP, &va.Visits, &va.FirstSeen); err != nil {
			return nil, fmt.Errorf("scan visitor activity: %w", err)
		}
		results = append(results, va)
	}
	return results, rows.Err()
}

func TopPagesSince(ctx context.Context, d *db.DB, since string, limit int) ([]PageCount, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(`
		SELECT page_url, COUNT(*) AS cnt FROM visit_logs
		WHERE visit_date >= ? AND page_url IS NOT NULL AND page_url != ''
		GROUP BY page_url ORDER BY cnt DESC, page_url ASC LIMIT ?`), since, limit)
	if err != nil {
		return nil, fmt.Errorf("top pages: %w", err)
	}
	defer rows.Close()

	var results []PageCount
	for rows.Next() {
		var p PageCount
		if err := rows.Scan(&p.Page, &p.Count); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// TopCountriesSince excludes the Unknown sentinel.
func TopCountriesSince(ctx context.Context, d *db.DB, since string, limit int) ([]CountryCount, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(`
		SELECT country, COUNT(*) AS cnt FROM visit_logs
		WHERE visit_date >= ? AND country != '' AND country != 'Unknown'
		GROUP BY country ORDER BY cnt DESC, country ASC LIMIT ?`), since, limit)
	if err != nil {
		return nil, fmt.Errorf("top countries: %w", err)
	}
	defer rows.Close()

	var results []CountryCount
	for rows.Next() {
		var c CountryCount
		if err := rows.Scan(&c.Country, &c.Count); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func DistinctCountriesSince(ctx context.Context, d *db.DB, since string) (int64, error) {
	var n int64
	err := d.QueryRowContext(ctx, d.Rebind(`
		SELECT COUNT(DISTINCT country) FROM visit_logs
		WHERE visit_date >= ? AND country != '' AND country != 'Unknown'`), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("distinct countries: %w", err)
	}
	return n, nil
}

func ReferrerCountsSince(ctx context.Context, d *db.DB, since string) ([]ValueCount, error) {
	return valueCounts(ctx, d, "referrer counts", `
		SELECT COALESCE(referrer, ''), COUNT(*) FROM visit_logs
		WHERE visit_date >= ? GROUP BY referrer`, since)
}

func UserAgentCountsSince(ctx context.Context, d *db.DB, since string) ([]ValueCount, error) {
	return valueCounts(ctx, d, "user agent counts", `
		SELECT COALESCE(user_agent, ''), COUNT(*) FROM visit_logs
		WHERE visit_date >= ? GROUP BY user_agent`, since)
}

func DeviceCountsSince(ctx context.Context, d *db.DB, since string) ([]ValueCount, error) {
	return valueCounts(ctx, d, "device counts", `
		SELECT device_type, COUNT(*) AS cnt FROM visit_logs
		WHERE visit_date >= ? AND device_type != ''
		GROUP BY device_type ORDER BY cnt DESC, device_type ASC`, since)
}

func valueCounts(ctx context.Context, d *db.DB, op, query string, args ...any) ([]ValueCount, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var results []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}
		results = append(results, vc)
	}
	return results, rows.Err()
}

// AvgSessionSince averages session_duration over events with a positive
// duration. It returns 0 when there are none.
func AvgSessionSince(ctx context.Context, d *db.DB, since string) (float64, error) {
	var avg sql.NullFloat64
	err := d.QueryRowContext(ctx, d.Rebind(`
		SELECT CAST(AVG(session_duration) AS DOUBLE PRECISION) FROM visit_logs
		WHERE visit_date >= ? AND session_duration > 0`), since).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg session: %w", err)
	}
	return avg.Float64, nil
}

// TableReady reports whether table exists in the connected database.
func TableReady(ctx context.Context, d *db.DB, table string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if d.Dialect == db.Postgres {
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`
	}
	var n int64
	if err := d.QueryRowContext(ctx, d.Rebind(query), table).Scan(&n); err != nil {
		return false, fmt.Errorf("table %s: %w", table, err)
	}
	return n > 0, nil
}
