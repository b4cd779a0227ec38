package postgresql

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docmap/docmap/internal/errorkit"
)

// Connection is a pooled connection to a PostgreSQL database.
type Connection struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (Connection, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return Connection{}, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return Connection{}, err
	}
	return Connection{Pool: pool}, nil
}

func (c Connection) Close() error {
	c.Pool.Close()
	return nil
}

// queryable is satisfied by both the pool and a transaction.
type queryable interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ queryable = (*pgxpool.Pool)(nil)
	_ queryable = pgx.Tx(nil)
)

// InTx runs fn in a transaction, committing it when fn succeeds and rolling it back otherwise.
func (c Connection) InTx(ctx context.Context, fn func(tx pgx.Tx) error) (rErr error) {
	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rErr != nil {
			rErr = errorkit.Merge(rErr, tx.Rollback(ctx))
			return
		}
		rErr = tx.Commit(ctx)
	}()
	return fn(tx)
}
