// Package repokit binds repositories to pools or transactions and bounds their transactions
package repokit

import (
	"context"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
)

type (
	// Queryer is the read and write surface every SQL repo is bound to
	Queryer = store.RowQuerier

	// TxRunner runs a function inside one transaction
	TxRunner = store.TxRunner

	Rows       = store.Rows
	Row        = store.Row
	CommandTag = store.CommandTag
)

// Binder builds a repo over a Queryer, so one binder serves the pool and a tx
type Binder[T any] interface {
	Bind(Queryer) T
}

// MustBind panics on a nil Queryer then binds
func MustBind[T any](b Binder[T], q Queryer) T {
	if q == nil {
		panic("repokit: nil Queryer")
	}
	return b.Bind(q)
}

// WithTx runs fn in a transaction on tx. Errors fn already classified pass
// through; begin and commit failures are classified as Postgres errors so a
// rolled back commit is retried like any other contention
func WithTx(ctx context.Context, tx TxRunner, fn func(q Queryer) error) error {
	err := tx.Tx(ctx, fn)
	if err == nil || perr.CodeOf(err) != perr.ErrorCodeUnknown {
		return err
	}
	return perr.FromPostgres(err, "transaction")
}
