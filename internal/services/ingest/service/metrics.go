package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator counters; a nil *Metrics records nothing
type Metrics struct {
	items    *prometheus.CounterVec
	runs     *prometheus.CounterVec
	listed   *prometheus.CounterVec
	warnings *prometheus.CounterVec
	stage    *prometheus.HistogramVec
}

// NewMetrics registers the ingest metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevzubase_ingest_items_total",
			Help: "Queue items by outcome (done, unchanged, retry, failed)",
		}, []string{"connector", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevzubase_ingest_runs_total",
			Help: "Finished runs by terminal status",
		}, []string{"connector", "status"}),
		listed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevzubase_ingest_listed_total",
			Help: "Item refs produced by listing passes",
		}, []string{"connector"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mevzubase_ingest_plan_warnings_total",
			Help: "Planner anomalies by kind",
		}, []string{"connector", "kind"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mevzubase_ingest_stage_seconds",
			Help:    "Per item stage duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"connector", "stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.items, m.runs, m.listed, m.warnings, m.stage)
	}
	return m
}

func (m *Metrics) item(connector, outcome string) {
	if m != nil {
		m.items.WithLabelValues(connector, outcome).Inc()
	}
}

func (m *Metrics) run(connector, status string) {
	if m != nil {
		m.runs.WithLabelValues(connector, status).Inc()
	}
}

func (m *Metrics) listedN(connector string, n int) {
	if m != nil {
		m.listed.WithLabelValues(connector).Add(float64(n))
	}
}

func (m *Metrics) warning(connector, kind string) {
	if m != nil {
		m.warnings.WithLabelValues(connector, kind).Inc()
	}
}

func (m *Metrics) observe(connector, stage string, since time.Time) {
	if m != nil {
		m.stage.WithLabelValues(connector, stage).Observe(time.Since(since).Seconds())
	}
}
