// Package database opens the bun handle the account store runs on.
package database

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MemoryDSN is a private in-memory sqlite database. It lives as long as the
// single pooled connection does.
const MemoryDSN = ":memory:"

// Options configures Open
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	// PingTimeout bounds the connectivity check, 5s when zero
	PingTimeout time.Duration
}

// Open returns a bun DB for the driver and checks it is reachable. sqlite
// handles are limited to a single connection so writes never contend and
// in-memory databases are not split across connections.
func Open(ctx context.Context, opts Options) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch opts.Driver {
	case DriverSQLite, "":
		sqldb, err = sql.Open(sqliteshim.ShimName, opts.DSN)
		if err != nil {
			return nil, wrapOpen(err, opts)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())

	case DriverPostgres:
		sqldb, err = sql.Open("pgx", opts.DSN)
		if err != nil {
			return nil, wrapOpen(err, opts)
		}
		if opts.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(opts.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())

	default:
		return nil, goerrors.New("unsupported database driver", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"driver": opts.Driver})
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, wrapOpen(err, opts)
	}

	if opts.Driver != DriverPostgres {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, wrapOpen(err, opts)
		}
	}

	return db, nil
}

func wrapOpen(err error, opts Options) error {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database").
		WithMetadata(map[string]any{"driver": driver})
}
