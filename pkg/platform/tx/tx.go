// Package tx carries a SQL transaction through context, so a task batch
// insert can join a transaction its caller already opened without the store
// API growing a tx parameter.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx returns a context carrying the transaction. A nil tx leaves the
// context unchanged.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From returns the ambient transaction, if the context carries one. Stores
// fall back to their own connection when it does not.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
