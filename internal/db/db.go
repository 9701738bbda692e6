// Package db opens the sqlite databases used for broker bookkeeping.
package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/vcsws/internal/utils"
)

const Memory = ":memory:"

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
`

type options struct {
	path         string
	pragmas      string
	maxOpenConns int
	maxIdleConns int
}

type Option func(*options)

// WithPath sets the database file. Memory keeps everything in process.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithPragmas replaces the default pragma block.
func WithPragmas(pragmas string) Option {
	return func(o *options) {
		o.pragmas = pragmas
	}
}

func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// NewSqliteDB connects with the compiled-in driver and applies the pragmas.
// An in-memory database is pinned to a single connection, since each sqlite
// connection would otherwise see its own empty database.
func NewSqliteDB(opts ...Option) (*sqlx.DB, error) {
	o := &options{
		path:         Memory,
		pragmas:      defaultPragma,
		maxIdleConns: 2,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := Memory
	if o.path != Memory {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	} else {
		o.maxOpenConns = 1
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if o.maxOpenConns > 0 {
		conn.SetMaxOpenConns(o.maxOpenConns)
	}
	if o.maxIdleConns > 0 {
		conn.SetMaxIdleConns(o.maxIdleConns)
	}

	if _, err := conn.Exec(o.pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return conn, nil
}
