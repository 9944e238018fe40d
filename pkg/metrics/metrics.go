// Package metrics registers the Prometheus collectors of the design service
// and serves them on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sewer_design_runs_total",
		Help: "Design runs by final status",
	}, []string{"status"})

	segmentsSized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sewer_design_segments_sized_total",
		Help: "Segments sized across all runs",
	})

	warningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sewer_design_warnings_total",
		Help: "Segment warnings by remark code",
	}, []string{"flag"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sewer_design_run_duration_seconds",
		Help:    "Wall time of a design run",
		Buckets: DefaultBuckets,
	})

	surcharged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sewer_design_surcharged_segments",
		Help: "Surcharged segments in the last finished run",
	})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sewer_design_jobs_in_flight",
		Help: "Design runs currently executing",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sewer_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sewer_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: DefaultBuckets,
	}, []string{"route"})
)

// SurchargeFlag is the remark code counted by the surcharge gauge.
const SurchargeFlag = "SC"

// Run is what a finished design run contributes to the metrics.
type Run struct {
	Status   string
	Sized    int
	Duration time.Duration
	// Flags counts flagged segments by remark code.
	Flags map[string]int
}

// RecordRun adds a finished run.
func RecordRun(r Run) {
	runsTotal.WithLabelValues(r.Status).Inc()
	segmentsSized.Add(float64(r.Sized))
	runDuration.Observe(r.Duration.Seconds())
	for flag, n := range r.Flags {
		warningsTotal.WithLabelValues(flag).Add(float64(n))
	}
	surcharged.Set(float64(r.Flags[SurchargeFlag]))
}

// JobStarted marks a run as executing and returns the func that ends it.
func JobStarted() (done func()) {
	jobsInFlight.Inc()
	return jobsInFlight.Dec
}

// ObserveHTTP records one served request.
func ObserveHTTP(route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
