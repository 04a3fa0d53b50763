package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// DB is a database handle that knows which SQL dialect it speaks.
// Queries are written with ? placeholders and passed through Rebind.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Wrap adopts an already opened handle. No pragmas or migrations are applied.
func Wrap(conn *sql.DB, dialect Dialect) *DB {
	return &DB{DB: conn, Dialect: dialect}
}

// Open picks a driver from the URL scheme, connects and migrates.
//
//	postgres://, postgresql://      pgx
//	libsql://, wss://, http(s)://   libsql (Turso)
//	anything else                   local SQLite file or :memory:
func Open(url string) (*DB, error) {
	driver, dialect := driverFor(url)

	conn, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA cache_size=-20000", // 20MB
		}
		for _, p := range pragmas {
			if _, err := conn.Exec(p); err != nil {
				conn.Close()
				return nil, fmt.Errorf("exec pragma %q: %w", p, err)
			}
		}
		conn.SetMaxOpenConns(1) // SQLite handles one writer at a time
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	d := Wrap(conn, dialect)
	if err := Migrate(context.Background(), d); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func driverFor(url string) (driver string, dialect Dialect) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", Postgres
	case strings.HasPrefix(url, "libsql://"), strings.HasPrefix(url, "wss://"),
		strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return "libsql", SQLite
	default:
		return "sqlite", SQLite
	}
}

// Rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
