package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-record-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Record store calls by operation and outcome (success, duplicate, not_found, unavailable, error).
	StoreOperationsTotal *prometheus.CounterVec

	// Record store latency. Watch for: slow date-range scans.
	StoreOperationDuration *prometheus.HistogramVec

	// Stats cache lookups by result (hit, miss).
	StatsCacheLookupsTotal *prometheus.CounterVec

	// Stats cache failures by operation (generation, get, set, invalidate). Cache errors never fail a request.
	StatsCacheErrorsTotal *prometheus.CounterVec

	// Temperature stats requests that joined an identical in-flight computation.
	StatsRequestsCoalescedTotal prometheus.Counter

	// Temperature results returned by kind (stats, no_data).
	TemperatureResultsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Store circuit breaker state: 0=closed, 1=open, 2=half_open.
	StoreCircuitBreakerState *prometheus.GaugeVec

	// Store circuit breaker transitions.
	StoreCircuitBreakerTransitionsTotal *prometheus.CounterVec

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeOperationsTotal",
			Help: "Total number of record store operations by outcome",
		},
		[]string{"operation", "status"},
	)
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "Record store operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)
	StatsCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statsCacheLookupsTotal",
			Help: "Temperature stats cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)
	StatsCacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statsCacheErrorsTotal",
			Help: "Temperature stats cache errors by operation",
		},
		[]string{"operation"},
	)
	StatsRequestsCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statsRequestsCoalescedTotal",
			Help: "Temperature stats requests served by sharing an in-flight store scan",
		},
	)
	TemperatureResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "temperatureResultsTotal",
			Help: "Per-location temperature results returned, by kind (stats, no_data)",
		},
		[]string{"kind"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	StoreCircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storeCircuitBreakerState",
			Help: "Record store circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	StoreCircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeCircuitBreakerTransitionsTotal",
			Help: "Record store circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		StoreOperationsTotal, StoreOperationDuration,
		StatsCacheLookupsTotal, StatsCacheErrorsTotal,
		StatsRequestsCoalescedTotal, TemperatureResultsTotal,
		RateLimitDeniedTotal,
		StoreCircuitBreakerState, StoreCircuitBreakerTransitionsTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// ObserveStoreOperation records one store call. status is derived by the caller.
func ObserveStoreOperation(operation, status string, d time.Duration) {
	StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	StoreOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordBreakerTransition updates the state gauge and transition counter.
func RecordBreakerTransition(component, from, to string, toValue int) {
	StoreCircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	StoreCircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
