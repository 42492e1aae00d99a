// Package repo persists the queue, run and progress state of the ingest orchestrator
package repo

import (
	"context"
	_ "embed"

	"github.com/nuxxor/Mevzubase/internal/modkit/repokit"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

//go:embed schema.sql
var schemaSQL string

// lastErrorMax bounds the stored last_error text
const lastErrorMax = 500

type (
	// PG is a Postgres binder for domain.StateRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.StateRepo
func NewPG() repokit.Binder[domain.StateRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.StateRepo { return &queries{q: q} }

// Migrate creates the state tables when missing
func Migrate(ctx context.Context, q repokit.Queryer) error {
	if _, err := q.Exec(ctx, schemaSQL); err != nil {
		return perr.FromPostgres(err, "ingest schema")
	}
	return nil
}

func trimErr(s string) string {
	r := []rune(s)
	if len(r) > lastErrorMax {
		return string(r[:lastErrorMax])
	}
	return s
}
