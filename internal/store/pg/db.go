// Package pg implements store.Stores against Postgres via database/sql and
// the pgx stdlib driver, grounded on the teacher's internal/store/pg
// package: one thin repository type per entity, wired by a factory, with a
// shared connection pool opened once at startup.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting every repo
// method run unchanged whether it is called standalone or inside
// Stores.WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenDB opens a Postgres connection pool and applies the pool-sizing
// config, mirroring goclaw's cmd/migrate.go connection setup.
func OpenDB(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "open postgres connection", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.Transient, "ping postgres", err)
	}
	return db, nil
}
