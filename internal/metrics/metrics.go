// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LearnerUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_learner_updates_total",
		Help: "Weight learner updates applied, by record kind",
	}, []string{"kind"})

	LearnerDelta = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wayfinder_learner_delta_log_weight",
		Help:    "Absolute log-weight change per learner update",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	ApportionAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wayfinder_apportion_aborts_total",
		Help: "Batches aborted because seat conservation failed",
	})

	Formations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_formations_total",
		Help: "Formations scored, by whether any dimension fell back to its default",
	}, []string{"degraded"})

	Selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_selections_total",
		Help: "Edges selected, by selection reason",
	}, []string{"reason"})

	Terminals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_terminal_total",
		Help: "Selections ending in a terminal status",
	}, []string{"status"})

	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_outcomes_total",
		Help: "Traversal outcomes reported, by classification",
	}, []string{"outcome"})

	LinkEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_link_events_total",
		Help: "Link strength changes, by source",
	}, []string{"source"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wayfinder_engine_batch_size",
		Help:    "Queued items drained per engine flush",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 256, 512},
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wayfinder_engine_queue_depth",
		Help: "Items waiting for the engine writer",
	})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Degraded renders a bool as the label value used by Formations.
func Degraded(d bool) string {
	if d {
		return "true"
	}
	return "false"
}
