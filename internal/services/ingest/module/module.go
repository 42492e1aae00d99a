// Package module wires the ingest orchestrator from core deps
package module

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nuxxor/Mevzubase/internal/modkit"
	"github.com/nuxxor/Mevzubase/internal/modkit/repokit"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	phttp "github.com/nuxxor/Mevzubase/internal/platform/net/http"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/guardrails"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/repo"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/service"
)

// Ports defines the ingest module ports
// Runner is nil when the module was built without a source
type Ports struct {
	Runner  domain.RunnerPort
	Monitor domain.MonitorPort
}

// Module implements the ingest module
type Module struct {
	deps  modkit.Deps
	opts  Options
	state domain.StateRepo
	ports Ports
}

var _ modkit.Routed = (*Module)(nil)

// New constructs the ingest module
// With deps.PG set the state lives in Postgres and shards are guarded by table leases,
// otherwise an in-memory store and process local leases are used.
// src and sink may both be nil for a monitor only module
func New(deps modkit.Deps, opts Options, src domain.Source, sink domain.DocumentSink, reg prometheus.Registerer) (*Module, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m := &Module{deps: deps, opts: opts}

	var lease domain.ShardLease
	if deps.PG != nil {
		m.state = repokit.MustBind(repo.NewPG(), deps.PG)
		if opts.Leases {
			lease = guardrails.MakeTableLease(deps.PG, opts.LeaseTTL)
		}
	} else {
		m.state = repo.NewMemory(deps.Clock())
		if opts.Leases {
			lease = guardrails.NewLocalLeases().Lease
		}
	}
	m.ports.Monitor = m.state

	if src == nil && sink == nil {
		return m, nil
	}
	if src == nil || sink == nil {
		return nil, perr.InvalidArgf("ingest: source and sink must be wired together")
	}

	backoff := service.DefaultBackoff()
	backoff.Base, backoff.Cap = opts.BackoffBase, opts.BackoffCap
	svc := service.New(m.state, src, sink, lease, service.Config{
		MaxAttempts: opts.MaxAttempts,
		MaxErrors:   opts.MaxErrors,
		StaleAfter:  opts.StaleAfter,
		Backoff:     backoff,
		Timeouts: guardrails.Timeouts{
			Item:  opts.ItemTimeout,
			Fetch: opts.FetchTimeout,
			DB:    opts.DBTimeout,
		},
		RetryPoll: opts.RetryPoll,
	},
		service.WithMetrics(service.NewMetrics(reg)),
		service.WithClock(deps.Clock()),
	)
	m.ports.Runner = svc
	m.ports.Monitor = svc
	return m, nil
}

// Migrate applies the state schema when backed by Postgres
func (m *Module) Migrate(ctx context.Context) error {
	if m.deps.PG == nil {
		return nil
	}
	return repo.Migrate(ctx, m.deps.PG)
}

// Options returns the validated options the module was built with
func (m *Module) Options() Options { return m.opts }

// Name returns the module name
func (m *Module) Name() string { return "ingest" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// MountRoutes mounts the read-only shard status route
func (m *Module) MountRoutes(r phttp.Router) {
	phttp.GetJSON(r, "/v1/shards", func(req *http.Request) (any, error) {
		connector := req.URL.Query().Get("connector")
		if connector == "" {
			return nil, perr.InvalidArgf("connector query parameter is required")
		}
		return m.ports.Monitor.Shards(req.Context(), connector)
	})
}
