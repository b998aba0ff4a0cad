// Package metrics provides Prometheus instrumentation for the upload pipeline,
// the rebalance job and leaderboard queries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chronicle"

// Upload outcomes.
const (
	UploadOutcomeCommitted = "committed"
	UploadOutcomeDuplicate = "duplicate"
	UploadOutcomeRejected  = "rejected"
	UploadOutcomeFailed    = "failed"
)

// Compensation outcomes.
const (
	CompensationOutcomeDeleted = "deleted"
	CompensationOutcomeMissing = "missing"
	CompensationOutcomeFailed  = "failed"
)

// Recorder collects service metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	uploads            *prometheus.CounterVec
	uploadDuration     prometheus.Histogram
	compensations      *prometheus.CounterVec
	rebalanceRuns      prometheus.Counter
	rebalanceUpdated   prometheus.Counter
	rebalanceDuration  prometheus.Histogram
	leaderboardLatency *prometheus.HistogramVec
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "total",
			Help:      "Save uploads by outcome.",
		}, []string{"outcome"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "duration_seconds",
			Help:      "End-to-end upload coordination latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "compensations_total",
			Help:      "Orphaned object deletes by outcome.",
		}, []string{"outcome"}),
		rebalanceRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "runs_total",
			Help:      "Completed rebalance runs.",
		}),
		rebalanceUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "rows_updated_total",
			Help:      "Weighted scores rewritten by rebalance runs.",
		}),
		rebalanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "duration_seconds",
			Help:      "Rebalance run latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		leaderboardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "query_duration_seconds",
			Help:      "Leaderboard query latency by view and cache result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view", "cache"}),
	}
	registry.MustRegister(
		recorder.uploads,
		recorder.uploadDuration,
		recorder.compensations,
		recorder.rebalanceRuns,
		recorder.rebalanceUpdated,
		recorder.rebalanceDuration,
		recorder.leaderboardLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return recorder
}

// ObserveUpload records one finished upload.
func (r *Recorder) ObserveUpload(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(outcome).Inc()
	r.uploadDuration.Observe(elapsed.Seconds())
}

// ObserveCompensation records one orphaned object delete attempt.
func (r *Recorder) ObserveCompensation(outcome string) {
	if r == nil {
		return
	}
	r.compensations.WithLabelValues(outcome).Inc()
}

// ObserveRebalance records one rebalance run.
func (r *Recorder) ObserveRebalance(updated int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.rebalanceRuns.Inc()
	r.rebalanceUpdated.Add(float64(updated))
	r.rebalanceDuration.Observe(elapsed.Seconds())
}

// ObserveLeaderboardQuery records one leaderboard read.
func (r *Recorder) ObserveLeaderboardQuery(view string, cacheHit bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	r.leaderboardLatency.WithLabelValues(view, cache).Observe(elapsed.Seconds())
}

// Gatherer exposes the registry for scraping and tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
