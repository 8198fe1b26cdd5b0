package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/admission"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// RouterConfig carries the per-route middleware settings.
type RouterConfig struct {
	RequestTimeout    time.Duration
	Admission         *admission.Limiter
	TrustForwardedFor bool
}

// NewRouter builds the full route table. /health and /metrics bypass admission
// and the request timeout; /weather routes get both.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(AdmissionMiddleware(cfg.Admission, cfg.TrustForwardedFor))
	weatherRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("/current", h.GetCurrentWeather).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/locations/search", h.SearchLocations).Methods(http.MethodGet)
	return router
}
