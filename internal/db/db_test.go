package db

import (
	"context"
	"testing"
)

func TestDriverFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDial   Dialect
	}{
		{":memory:", "sqlite", SQLite},
		{"./tally.db", "sqlite", SQLite},
		{"file:/var/lib/tally.db?cache=shared", "sqlite", SQLite},
		{"libsql://tally-acme.turso.io?authToken=x", "libsql", SQLite},
		{"wss://tally-acme.turso.io", "libsql", SQLite},
		{"http://127.0.0.1:8081", "libsql", SQLite},
		{"postgres://u:p@localhost/tally", "pgx", Postgres},
		{"postgresql://localhost/tally?sslmode=disable", "pgx", Postgres},
	}
	for _, tt := range tests {
		driver, dialect := driverFor(tt.url)
		if driver != tt.wantDriver || dialect != tt.wantDial {
			t.Errorf("driverFor(%q) = %s/%s, want %s/%s", tt.url, driver, dialect, tt.wantDriver, tt.wantDial)
		}
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT count FROM visits WHERE visit_date >= ? AND visit_date <= ? LIMIT ?"

	sqlite := &DB{Dialect: SQLite}
	if got := sqlite.Rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}

	pg := &DB{Dialect: Postgres}
	want := "SELECT count FROM visits WHERE visit_date >= $1 AND visit_date <= $2 LIMIT $3"
	if got := pg.Rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestOpen_MemoryMigrates(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if d.Dialect != SQLite {
		t.Errorf("dialect = %s, want sqlite", d.Dialect)
	}

	for _, table := range []string{"visits", "visit_logs"} {
		var name string
		err := d.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// second run must be a no-op
	if err := Migrate(context.Background(), d); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSchema_VisitDateUnique(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	insert := `INSERT INTO visits (visit_date, count, created_at, updated_at) VALUES ('2024-01-15', 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	if _, err := d.Exec(insert); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := d.Exec(insert); err == nil {
		t.Error("expected unique violation on duplicate visit_date")
	}
}
