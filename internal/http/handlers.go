package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
	"github.com/kjstillabower/weather-aggregation-service/internal/service"
	"github.com/kjstillabower/weather-aggregation-service/internal/traffic"
	"github.com/kjstillabower/weather-aggregation-service/internal/validation"
)

// WeatherService is the aggregation surface the handlers depend on.
type WeatherService interface {
	GetCurrentWeather(ctx context.Context, location string) (models.CurrentWeather, error)
	GetForecast(ctx context.Context, location string, days int) (models.Forecast, error)
	SearchLocations(ctx context.Context, query string) []models.Location
}

// Limits bounds request parameters.
type Limits struct {
	LocationMinLength   int
	LocationMaxLength   int
	QueryMaxLength      int
	DefaultForecastDays int
	MaxForecastDays     int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		LocationMinLength:   1,
		LocationMaxLength:   100,
		QueryMaxLength:      100,
		DefaultForecastDays: 5,
		MaxForecastDays:     client.MaxForecastDays,
	}
}

// HealthConfig holds the thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used for remote backends.
	CachePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherService
	limits           Limits
	healthConfig     *HealthConfig
	logger           *zap.Logger
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. Zero-valued limits take DefaultLimits.
func NewHandler(weather WeatherService, limits Limits, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	def := DefaultLimits()
	if limits.LocationMinLength <= 0 {
		limits.LocationMinLength = def.LocationMinLength
	}
	if limits.LocationMaxLength <= 0 {
		limits.LocationMaxLength = def.LocationMaxLength
	}
	if limits.QueryMaxLength <= 0 {
		limits.QueryMaxLength = def.QueryMaxLength
	}
	if limits.MaxForecastDays <= 0 || limits.MaxForecastDays > client.MaxForecastDays {
		limits.MaxForecastDays = def.MaxForecastDays
	}
	if limits.DefaultForecastDays <= 0 || limits.DefaultForecastDays > limits.MaxForecastDays {
		limits.DefaultForecastDays = min(def.DefaultForecastDays, limits.MaxForecastDays)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:      weather,
		limits:       limits,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// BeginShutdown makes /health report shutting-down from now on.
func (h *Handler) BeginShutdown() {
	h.shuttingDown.Store(true)
}

// ShuttingDown reports whether BeginShutdown was called.
func (h *Handler) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

// GetCurrentWeather handles GET /weather/current?location=.
func (h *Handler) GetCurrentWeather(w http.ResponseWriter, r *http.Request) {
	location, err := validation.ValidateLocation(r.URL.Query().Get("location"),
		h.limits.LocationMinLength, h.limits.LocationMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	observability.RecordWeatherQuery("current", location)
	result, err := h.weather.GetCurrentWeather(r.Context(), location)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, result)
}

// GetForecast handles GET /weather/forecast?location=&days=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location, err := validation.ValidateLocation(q.Get("location"),
		h.limits.LocationMinLength, h.limits.LocationMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	days, err := validation.ValidateDays(q.Get("days"), h.limits.DefaultForecastDays, h.limits.MaxForecastDays)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DAYS", err.Error())
		return
	}

	observability.RecordWeatherQuery("forecast", location)
	result, err := h.weather.GetForecast(r.Context(), location, days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, result)
}

// SearchLocations handles GET /weather/locations/search?q=. An empty list is a valid answer.
func (h *Handler) SearchLocations(w http.ResponseWriter, r *http.Request) {
	query, err := validation.ValidateQuery(r.URL.Query().Get("q"), h.limits.QueryMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	observability.RecordWeatherQuery("search", query)
	locations := h.weather.SearchLocations(r.Context(), query)
	if locations == nil {
		locations = []models.Location{}
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, locations)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "error_rate_breach" {
		checks["providers"] = "unhealthy"
	} else {
		checks["providers"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing(r.Context()) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-aggregation-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Overloaded: admission rejections make up too large a share of recent requests.
	if h.healthConfig.OverloadWindow > 0 && h.healthConfig.OverloadThresholdPct > 0 {
		total := traffic.RequestCount(h.healthConfig.OverloadWindow)
		if total > 0 {
			pct := float64(traffic.DenialCount(h.healthConfig.OverloadWindow)) * 100 / float64(total)
			if pct >= float64(h.healthConfig.OverloadThresholdPct) {
				return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
			}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps an aggregation error to its HTTP response and records
// the outcome for health tracking. Client-caused errors do not count as failures.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	if logger == nil {
		logger = zap.NewNop()
	}

	switch {
	case errors.Is(r.Context().Err(), context.DeadlineExceeded):
		traffic.Record(traffic.Error)
		logger.Warn("request deadline exceeded", zap.Error(err))
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	case errors.Is(err, service.ErrInvalidDays):
		traffic.Record(traffic.Success)
		writeError(w, r, http.StatusBadRequest, "INVALID_DAYS", err.Error())
	case errors.Is(err, service.ErrLocationNotFound):
		traffic.Record(traffic.Success)
		logger.Debug("location not found", zap.Error(err))
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "Location not found")
	case errors.Is(err, service.ErrUpstreamFailure):
		traffic.Record(traffic.Error)
		logger.Debug("upstream failure", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_FAILURE", "Unable to fetch weather data")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		logger.Debug("request canceled", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "REQUEST_CANCELED", "Request canceled")
	default:
		traffic.Record(traffic.Error)
		logger.Error("unexpected service error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
	}
}
