package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-aggregation-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream provider calls by provider and status label.
	ProviderCallsTotal *prometheus.CounterVec

	// Upstream provider latency. Watch for: p99 approaching the fan-out timeout.
	ProviderDuration *prometheus.HistogramVec

	// Transport retries per provider. High values mean an unstable upstream.
	ProviderRetriesTotal *prometheus.CounterVec

	// Circuit breaker state per provider: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per provider.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Geocoding lookups. status=error counts lookups that were downgraded to "no matches".
	GeocodingRequestsTotal *prometheus.CounterVec

	// Aggregations by kind (current, forecast) and outcome (cache_hit, success, not_found, upstream_failure, invalid, canceled).
	AggregationsTotal *prometheus.CounterVec

	// Per-provider fan-out slot outcomes (ok, failed, timed_out).
	FanOutOutcomesTotal *prometheus.CounterVec

	// Wall time of one fan-out; bounded by the slowest provider, not the sum.
	FanOutDuration *prometheus.HistogramVec

	// Cache hits and misses by kind.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by operation and category. Errors degrade to a miss.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache backend latency by operation and result.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for the same key (duplicate fan-outs).
	CacheStampedeDetectedTotal *prometheus.CounterVec
	CacheStampedeConcurrency   *prometheus.HistogramVec

	// Callers that shared another caller's fan-out when coalescing is enabled.
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Cache warming runs, failed runs and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Total weather lookups by kind.
	WeatherQueriesTotal *prometheus.CounterVec

	// Per-location query count (allow-list; others go to "other").
	WeatherQueriesByLocationTotal *prometheus.CounterVec

	// Admission control rejections (429).
	AdmissionRejectedTotal prometheus.Counter

	// Clients currently holding a token bucket.
	AdmissionClients prometheus.Gauge

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	trafficGaugesOnce sync.Once
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
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of upstream weather provider calls",
		},
		[]string{"provider", "status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Upstream weather provider latency in seconds (per attempt)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for upstream provider calls",
		},
		[]string{"provider"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions per provider",
		},
		[]string{"provider", "from", "to"},
	)
	GeocodingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocodingRequestsTotal",
			Help: "Geocoding lookups by status (success, empty, error)",
		},
		[]string{"status"},
	)
	AggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregationsTotal",
			Help: "Aggregation requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	FanOutOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanOutOutcomesTotal",
			Help: "Per-provider fan-out results by kind and outcome (ok, failed, timed_out)",
		},
		[]string{"provider", "kind", "outcome"},
	)
	FanOutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fanOutDurationSeconds",
			Help:    "Wall time from dispatch until every provider settled or timed out",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of result cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of result cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that found another miss for the same key already in progress",
		},
		[]string{"cacheType"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Number of concurrent misses for the same key when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 25, 50},
		},
		[]string{"cacheType"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by another request's fan-out (coalescing enabled)",
		},
		[]string{"cacheType"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed location",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	WeatherQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups by kind",
		},
		[]string{"kind"},
	)
	WeatherQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByLocationTotal",
			Help: "Weather queries by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	AdmissionRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "admissionRejectedTotal",
			Help: "Total number of requests rejected by per-client admission control (429)",
		},
	)
	AdmissionClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "admissionClients",
			Help: "Number of clients with a live token bucket",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ProviderCallsTotal, ProviderDuration, ProviderRetriesTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		GeocodingRequestsTotal,
		AggregationsTotal, FanOutOutcomesTotal, FanOutDuration,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency, RequestCoalescingHitsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		WeatherQueriesTotal, WeatherQueriesByLocationTotal,
		AdmissionRejectedTotal, AdmissionClients,
	)
}

// RegisterTrafficGauges registers sliding-window request and rejection gauges.
// Call from main after config load; uses the same window as the health check.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "admissionRequestsInWindow",
					Help: "Requests reaching the admission gate in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "admissionRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordWeatherQuery records a weather query of the given kind for a location.
func RecordWeatherQuery(kind, location string) {
	WeatherQueriesTotal.WithLabelValues(kind).Inc()
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		WeatherQueriesByLocationTotal.WithLabelValues(loc).Inc()
	} else {
		WeatherQueriesByLocationTotal.WithLabelValues("other").Inc()
	}
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
