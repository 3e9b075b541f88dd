// Package dbx holds the small database-handle abstraction every store in
// this module is built on, following the shape used throughout the
// teacher codebase (a store takes whatever can run a query: a pool, a
// single connection, or a transaction) without pulling in a full ORM.
package dbx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx. Stores
// accept a DBTX so the same store code runs inside or outside an explicit
// transaction — the Booking Core opens a transaction and passes it down
// so the outbox append lands in the same commit as the business write
// (spec §4.4, §5 "locking discipline").
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner is anything that can open a transaction: a pool or a
// connection, not an existing transaction.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn in a transaction, matching the rule that the outbox
// append and the originating business mutation commit atomically.
func WithTx(ctx context.Context, db Beginner, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
