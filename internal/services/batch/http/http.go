// Package http exposes the batch status routes
package http

import (
	stdctx "context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nuxxor/Mevzubase/internal/platform/buildinfo"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	phttp "github.com/nuxxor/Mevzubase/internal/platform/net/http"
	"github.com/nuxxor/Mevzubase/internal/services/batch/domain"
	ingest "github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// Pinger is satisfied by store backends that expose Ping
type Pinger interface {
	Ping(stdctx.Context) error
}

// Snapshotter returns the live monitor rows
type Snapshotter interface {
	Snapshot() []domain.Row
}

// Deps are the handler dependencies; any nil field disables its route
type Deps struct {
	Service   string
	StartedAt time.Time
	Batch     Snapshotter
	Monitor   ingest.MonitorPort
	Gatherer  prometheus.Gatherer
	PG        any
}

// HealthResponse is the /healthz payload
type HealthResponse struct {
	OK      bool                `json:"ok"`
	Service string              `json:"service"`
	Started string              `json:"started"`
	Uptime  int64               `json:"uptime"`
	Build   buildinfo.BuildInfo `json:"build"`
	PG      string              `json:"pg"`
}

// WindowRow is one batch window as served over http
type WindowRow struct {
	Window   string        `json:"window"`
	ShardKey string        `json:"shard_key"`
	State    domain.State  `json:"state"`
	Counts   ingest.Counts `json:"counts"`
	Percent  float64       `json:"percent"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
}

type handlers struct{ d Deps }

// Register mounts /healthz, /v1/batch, /v1/shards and /metrics
func Register(r phttp.Router, d Deps) {
	h := &handlers{d: d}
	phttp.GetJSON(r, "/healthz", h.health)
	if d.Batch != nil {
		phttp.GetJSON(r, "/v1/batch", h.batch)
	}
	if d.Monitor != nil {
		phttp.GetJSON(r, "/v1/shards", h.shards)
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (h *handlers) health(r *http.Request) (any, error) {
	out := HealthResponse{
		OK:      true,
		Service: h.d.Service,
		Started: h.d.StartedAt.UTC().Format(time.RFC3339),
		Uptime:  int64(time.Since(h.d.StartedAt).Seconds()),
		Build:   buildinfo.Info(),
		PG:      "skipped",
	}
	if p, ok := h.d.PG.(Pinger); ok {
		ctx, cancel := stdctx.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "pg ping")
		}
		out.PG = "ok"
	}
	return out, nil
}

func (h *handlers) batch(*http.Request) (any, error) {
	rows := h.d.Batch.Snapshot()
	out := make([]WindowRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, WindowRow{
			Window:   r.Job.Window.String(),
			ShardKey: r.Job.ShardKey(),
			State:    r.State,
			Counts:   r.Counts,
			Percent:  r.Counts.Percent(),
			ExitCode: r.ExitCode,
			Error:    r.Err,
		})
	}
	return out, nil
}

func (h *handlers) shards(r *http.Request) (any, error) {
	connector := r.URL.Query().Get("connector")
	if connector == "" {
		return nil, perr.InvalidArgf("connector query parameter is required")
	}
	return h.d.Monitor.Shards(r.Context(), connector)
}
