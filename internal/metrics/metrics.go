// Package metrics exports fit engine and job metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

// Observer implements gridsearch.Observer on Prometheus collectors and adds
// job-level counters for the server.
type Observer struct {
	dispatchLatency *prometheus.HistogramVec
	candidates      *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	fitLatency      *prometheus.HistogramVec
	fits            *prometheus.CounterVec
	jobs            *prometheus.GaugeVec
	rejected        prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registry.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridfit_dispatch_duration_seconds",
			Help:    "Wall time of one grid dispatch",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"backend", "status"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfit_candidates_evaluated_total",
			Help: "Grid candidates evaluated by successful dispatches",
		}, []string{"backend"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfit_fallbacks_total",
			Help: "Dispatches moved to another executor because the primary was unavailable",
		}, []string{"from", "to"}),
		fitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridfit_fit_duration_seconds",
			Help:    "Wall time of a complete fit",
			Buckets: prometheus.DefBuckets,
		}, []string{"family", "refinement"}),
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfit_fits_total",
			Help: "Completed fits by outcome",
		}, []string{"family", "status"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridfit_jobs",
			Help: "Server fit jobs by status",
		}, []string{"status"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridfit_submissions_rejected_total",
			Help: "Fit submissions rejected by the rate limiter",
		}),
	}
	reg.MustRegister(
		o.dispatchLatency,
		o.candidates,
		o.fallbacks,
		o.fitLatency,
		o.fits,
		o.jobs,
		o.rejected,
	)
	return o
}

// ObserveDispatch records one dispatch.
func (o *Observer) ObserveDispatch(backend string, candidates uint64, elapsed time.Duration, err error) {
	o.dispatchLatency.WithLabelValues(backend, status(err)).Observe(elapsed.Seconds())
	if err == nil {
		o.candidates.WithLabelValues(backend).Add(float64(candidates))
	}
}

// ObserveFallback records a move from one executor to another.
func (o *Observer) ObserveFallback(from, to string) {
	o.fallbacks.WithLabelValues(from, to).Inc()
}

// ObserveFit records a finished fit.
func (o *Observer) ObserveFit(family, refinement string, elapsed time.Duration, err error) {
	o.fitLatency.WithLabelValues(family, refinement).Observe(elapsed.Seconds())
	o.fits.WithLabelValues(family, status(err)).Inc()
}

// JobTransition moves one job from one status gauge to another. An empty
// from only increments.
func (o *Observer) JobTransition(from, to string) {
	if from != "" {
		o.jobs.WithLabelValues(from).Dec()
	}
	if to != "" {
		o.jobs.WithLabelValues(to).Inc()
	}
}

// Rejected counts a rate-limited submission.
func (o *Observer) Rejected() {
	o.rejected.Inc()
}

// status labels err by its kind so dashboards can split timeouts from bad input.
func status(err error) string {
	if err == nil {
		return "success"
	}
	if kind := optimization.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
