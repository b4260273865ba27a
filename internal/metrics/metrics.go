// Package metrics exposes Prometheus collectors for the publisher.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// Step and login results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	jobsTotal                  *prometheus.CounterVec
	stepDurationSeconds        *prometheus.HistogramVec
	loginAttemptsTotal         *prometheus.CounterVec
	assetsTotal                *prometheus.CounterVec
	lastRunTimestampSeconds    prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "albumpub_jobs_total",
				Help: "Total number of runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		stepDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "albumpub_step_duration_seconds",
				Help:    "Histogram of publish step durations, labeled by step.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"step"},
		)

		loginAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "albumpub_login_attempts_total",
				Help: "Total number of interactive login attempts, labeled by result.",
			},
			[]string{"result"},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "albumpub_assets_total",
				Help: "Total number of asset fetches, labeled by result.",
			},
			[]string{"result"},
		)

		lastRunTimestampSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "albumpub_last_run_timestamp_seconds",
				Help: "Unix time of the last completed run.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob counts one run outcome and stamps the last run time.
func ObserveJob(status string, at time.Time) {
	jobsTotal.WithLabelValues(status).Inc()
	lastRunTimestampSeconds.Set(float64(at.Unix()))
}

// ObserveStep records how long a publish step took.
func ObserveStep(step string, elapsed time.Duration, _ error) {
	stepDurationSeconds.WithLabelValues(step).Observe(elapsed.Seconds())
}

// ObserveLoginAttempt counts one interactive login attempt.
func ObserveLoginAttempt(ok bool) {
	loginAttemptsTotal.WithLabelValues(result(ok)).Inc()
}

// ObserveAsset counts one asset fetch. A missing asset is counted apart from
// other failures.
func ObserveAsset(err error) {
	switch {
	case err == nil:
		assetsTotal.WithLabelValues("fetched").Inc()
	case errors.Is(err, publish.ErrAssetNotFound):
		assetsTotal.WithLabelValues("missing").Inc()
	default:
		assetsTotal.WithLabelValues(ResultError).Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultError
}
