package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxTxRunner struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

// NewTxRunner returns a TxRunner over a pgx pool at READ COMMITTED. Writers
// to one aggregate are serialized by the (aggregate_id, version) index.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return &pgxTxRunner{pool: pool, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

// InTx runs fn inside pgx.BeginTxFunc, which commits on nil and rolls back
// on error or panic.
func (r *pgxTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, db DBTX) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}
