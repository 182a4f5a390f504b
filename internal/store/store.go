package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names a database/sql driver.
type Driver string

const (
	SQLite   Driver = "sqlite3"
	Postgres Driver = "postgres"
)

// ParseDriver resolves a driver name. "sqlite" and "postgresql" are
// accepted as aliases.
func ParseDriver(name string) (Driver, error) {
	switch name {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	}
	return "", fmt.Errorf("unknown driver %q", name)
}

// Option configures a DB during Open.
type Option func(*options)

type options struct {
	maxOpen int
	maxIdle int
	pragmas []string
}

// WithMaxOpenConns caps the connection pool. It is ignored for sqlite3,
// which always uses one connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpen = n }
}

// WithMaxIdleConns sets how many idle connections the pool keeps.
func WithMaxIdleConns(n int) Option {
	return func(o *options) { o.maxIdle = n }
}

// WithPragmas appends sqlite3 pragmas to the defaults, e.g.
// "PRAGMA cache_size = -20000".
func WithPragmas(pragmas ...string) Option {
	return func(o *options) { o.pragmas = append(o.pragmas, pragmas...) }
}

// DB executes compiled statements against one database.
type DB struct {
	db     *sql.DB
	driver Driver
}

// Open connects to dsn with driver and applies the driver's required
// configuration. For sqlite3 a dsn of ":memory:" opens a private in-memory
// database.
func Open(driver Driver, dsn string, opts ...Option) (*DB, error) {
	o := options{maxOpen: 10, maxIdle: 2}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch driver {
	case SQLite:
		// SQLite only supports one writer at a time, and each connection to
		// ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db, o.pragmas); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	default:
		db.SetMaxOpenConns(o.maxOpen)
		db.SetMaxIdleConns(o.maxIdle)
	}

	slog.Debug("database opened", "driver", driver)
	return &DB{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Driver returns the driver the DB was opened with.
func (d *DB) Driver() Driver { return d.driver }

// SQL returns the underlying sql.DB for direct queries.
// Use with caution - prefer the statement methods when available.
func (d *DB) SQL() *sql.DB { return d.db }

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, extra []string) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	pragmas = append(pragmas, extra...)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (d *DB) verifyPragma(name, expected string) error {
	var value string
	if err := d.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
