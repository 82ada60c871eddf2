// Package metrics provides Prometheus metrics for the draw core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drawcore"

// Metrics holds every collector the core reports.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	BetsRecorded *prometheus.CounterVec
	BetsRejected *prometheus.CounterVec
	LiabilityAdd *prometheus.CounterVec

	// Lifecycle
	PeriodsOpened     *prometheus.CounterVec
	PeriodsFrozen     *prometheus.CounterVec
	Settlements       *prometheus.CounterVec
	SettleFailures    *prometheus.CounterVec
	SelectionLatency  *prometheus.HistogramVec
	CandidatesAtClose *prometheus.GaugeVec

	// Archival
	ResultsArchived prometheus.Counter
}

// New registers every collector on a fresh registry, so multiple instances
// never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BetsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bets_recorded_total",
			Help:      "Bets added to a period ledger by game kind",
		}, []string{"game_kind"}),
		BetsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bets_rejected_total",
			Help:      "Bets rejected at ingestion by reason",
		}, []string{"game_kind", "reason"}),
		LiabilityAdd: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "liability_minor_units_total",
			Help:      "Liability added to period ledgers in minor units",
		}, []string{"game_kind"}),

		PeriodsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "period",
			Name:      "opened_total",
			Help:      "Periods opened by game kind",
		}, []string{"game_kind"}),
		PeriodsFrozen: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "period",
			Name:      "frozen_total",
			Help:      "Periods frozen by game kind",
		}, []string{"game_kind"}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "period",
			Name:      "settled_total",
			Help:      "Periods settled by game kind and selection branch",
		}, []string{"game_kind", "branch"}),
		SettleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "period",
			Name:      "settle_failures_total",
			Help:      "Failed settlement attempts by game kind",
		}, []string{"game_kind"}),
		SelectionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "duration_seconds",
			Help:      "Time spent in the selection engine",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"game_kind"}),
		CandidatesAtClose: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "candidates_remaining",
			Help:      "Candidate set size seen by the most recent settlement",
		}, []string{"game_kind"}),

		ResultsArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "results_total",
			Help:      "Results copied to object storage",
		}),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
