package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
	"github.com/kjstillabower/weather-aggregation-service/internal/service"
	"github.com/kjstillabower/weather-aggregation-service/internal/traffic"
)

type mockWeatherService struct {
	mu        sync.Mutex
	current   models.CurrentWeather
	forecast  models.Forecast
	locations []models.Location
	err       error
	block     chan struct{} // if set, calls block until ctx.Done() or close
	gotLoc    string
	gotDays   int
	gotQuery  string
}

func (m *mockWeatherService) wait(ctx context.Context) error {
	if m.block == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.block:
		return nil
	}
}

func (m *mockWeatherService) GetCurrentWeather(ctx context.Context, location string) (models.CurrentWeather, error) {
	m.mu.Lock()
	m.gotLoc = location
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return models.CurrentWeather{}, err
	}
	return m.current, m.err
}

func (m *mockWeatherService) GetForecast(ctx context.Context, location string, days int) (models.Forecast, error) {
	m.mu.Lock()
	m.gotLoc, m.gotDays = location, days
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return models.Forecast{}, err
	}
	return m.forecast, m.err
}

func (m *mockWeatherService) SearchLocations(ctx context.Context, query string) []models.Location {
	m.mu.Lock()
	m.gotQuery = query
	m.mu.Unlock()
	return m.locations
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func withRequestContext(req *http.Request, corrID string) *http.Request {
	ctx := observability.WithCorrelationID(req.Context(), corrID)
	ctx = observability.WithLogger(ctx, zap.NewNop())
	return req.WithContext(ctx)
}

func TestHandler_GetCurrentWeather_Success(t *testing.T) {
	svc := &mockWeatherService{current: models.CurrentWeather{Temperature: 19, Humidity: 55, Conditions: "light rain"}}
	handler := NewHandler(svc, Limits{}, nil, zap.NewNop())

	req := httptest.NewRequest("GET", "/weather/current?location=Paris", nil)
	w := httptest.NewRecorder()
	handler.GetCurrentWeather(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got models.CurrentWeather
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != svc.current {
		t.Errorf("body = %+v, want %+v", got, svc.current)
	}
	if svc.gotLoc != "Paris" {
		t.Errorf("service location = %q, want Paris", svc.gotLoc)
	}
}

func TestHandler_GetCurrentWeather_TrimsLocation(t *testing.T) {
	svc := &mockWeatherService{}
	handler := NewHandler(svc, Limits{}, nil, zap.NewNop())

	req := httptest.NewRequest("GET", "/weather/current?location=%20%20Paris%20", nil)
	w := httptest.NewRecorder()
	handler.GetCurrentWeather(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if svc.gotLoc != "Paris" {
		t.Errorf("service location = %q, want Paris", svc.gotLoc)
	}
}

func TestHandler_GetCurrentWeather_InvalidLocation(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing", "/weather/current"},
		{"whitespace", "/weather/current?location=%20%20"},
		{"bad characters", "/weather/current?location=Paris%3B%20DROP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWeatherService{}
			handler := NewHandler(svc, Limits{}, nil, zap.NewNop())

			req := withRequestContext(httptest.NewRequest("GET", tt.query, nil), "corr-1")
			w := httptest.NewRecorder()
			handler.GetCurrentWeather(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			body := decodeError(t, w)
			if body.Error.Code != "INVALID_LOCATION" {
				t.Errorf("code = %q, want INVALID_LOCATION", body.Error.Code)
			}
			if body.Error.RequestID != "corr-1" {
				t.Errorf("requestId = %q, want corr-1", body.Error.RequestID)
			}
			if svc.gotLoc != "" {
				t.Errorf("service called with %q; want no call", svc.gotLoc)
			}
		})
	}
}

func TestHandler_ServiceErrorMapping(t *testing.T) {
	upstream := &service.UpstreamError{Failures: []service.ProviderFailure{
		{Provider: "openmeteo", TimedOut: true, Err: context.DeadlineExceeded},
	}}
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", fmt.Errorf("%w: %q", service.ErrLocationNotFound, "Atlantis"), http.StatusNotFound, "LOCATION_NOT_FOUND"},
		{"upstream", upstream, http.StatusBadGateway, "UPSTREAM_FAILURE"},
		{"invalid days", service.ErrInvalidDays, http.StatusBadRequest, "INVALID_DAYS"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWeatherService{err: tt.err}
			handler := NewHandler(svc, Limits{}, nil, zap.NewNop())

			req := withRequestContext(httptest.NewRequest("GET", "/weather/current?location=Atlantis", nil), "corr-2")
			w := httptest.NewRecorder()
			handler.GetCurrentWeather(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeError(t, w); body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestHandler_RequestDeadline_Returns504(t *testing.T) {
	svc := &mockWeatherService{block: make(chan struct{})}
	defer close(svc.block)
	handler := NewHandler(svc, Limits{}, nil, zap.NewNop())

	req := httptest.NewRequest("GET", "/weather/current?location=Tokyo", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 20*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	handler.GetCurrentWeather(w, req.WithContext(ctx))

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	if body := decodeError(t, w); body.Error.Code != "TIMEOUT" {
		t.Errorf("code = %q, want TIMEOUT", body.Error.Code)
	}
}

func TestHandler_GetForecast(t *testing.T) {
	forecast := models.Forecast{Days: []models.DailyForecast{
		{Date: "2024-01-15", MaxTemp: 5, MinTemp: -2, Precipitation: 1.5, Conditions: "Snow"},
	}}
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantDays   int
		wantCode   string
	}{
		{"default days", "/weather/forecast?location=Paris", http.StatusOK, 5, ""},
		{"explicit days", "/weather/forecast?location=Paris&days=3", http.StatusOK, 3, ""},
		{"max days", "/weather/forecast?location=Paris&days=5", http.StatusOK, 5, ""},
		{"zero days", "/weather/forecast?location=Paris&days=0", http.StatusBadRequest, 0, "INVALID_DAYS"},
		{"beyond provider range", "/weather/forecast?location=Paris&days=6", http.StatusBadRequest, 0, "INVALID_DAYS"},
		{"open-meteo range", "/weather/forecast?location=Paris&days=16", http.StatusBadRequest, 0, "INVALID_DAYS"},
		{"not a number", "/weather/forecast?location=Paris&days=abc", http.StatusBadRequest, 0, "INVALID_DAYS"},
		{"missing location", "/weather/forecast?days=3", http.StatusBadRequest, 0, "INVALID_LOCATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWeatherService{forecast: forecast}
			handler := NewHandler(svc, Limits{}, nil, zap.NewNop())

			req := httptest.NewRequest("GET", tt.query, nil)
			w := httptest.NewRecorder()
			handler.GetForecast(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if body := decodeError(t, w); body.Error.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
				}
				return
			}
			if svc.gotDays != tt.wantDays {
				t.Errorf("service days = %d, want %d", svc.gotDays, tt.wantDays)
			}
			var got models.Forecast
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got.Days) != 1 || got.Days[0] != forecast.Days[0] {
				t.Errorf("body = %+v", got)
			}
		})
	}
}

func TestHandler_GetForecast_ConfiguredMaxDays(t *testing.T) {
	svc := &mockWeatherService{}
	handler := NewHandler(svc, Limits{MaxForecastDays: 4, DefaultForecastDays: 3}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.GetForecast(w, httptest.NewRequest("GET", "/weather/forecast?location=Paris", nil))
	if w.Code != http.StatusOK || svc.gotDays != 3 {
		t.Errorf("default: status = %d days = %d, want 200 and 3", w.Code, svc.gotDays)
	}

	w = httptest.NewRecorder()
	handler.GetForecast(w, httptest.NewRequest("GET", "/weather/forecast?location=Paris&days=5", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("days=5 status = %d, want 400", w.Code)
	}
}

func TestHandler_GetForecast_MaxDaysClampedToProviderRange(t *testing.T) {
	svc := &mockWeatherService{}
	handler := NewHandler(svc, Limits{MaxForecastDays: 16}, nil, zap.NewNop())

	for _, days := range []string{"6", "7", "16"} {
		w := httptest.NewRecorder()
		handler.GetForecast(w, httptest.NewRequest("GET", "/weather/forecast?location=Paris&days="+days, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("days=%s status = %d, want 400", days, w.Code)
		}
		if body := decodeError(t, w); body.Error.Code != "INVALID_DAYS" {
			t.Errorf("days=%s code = %q, want INVALID_DAYS", days, body.Error.Code)
		}
	}
	if svc.gotDays != 0 {
		t.Errorf("service called with days = %d", svc.gotDays)
	}
}

func TestHandler_SearchLocations(t *testing.T) {
	svc := &mockWeatherService{locations: []models.Location{
		{Name: "Paris", Country: "FR", Latitude: 48.8566, Longitude: 2.3522},
		{Name: "Paris", Country: "US", State: "Texas", Latitude: 33.66, Longitude: -95.55},
	}}
	handler := NewHandler(svc, Limits{}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.SearchLocations(w, httptest.NewRequest("GET", "/weather/locations/search?q=Paris", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []models.Location
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].State != "Texas" {
		t.Errorf("body = %+v", got)
	}
	if svc.gotQuery != "Paris" {
		t.Errorf("query = %q, want Paris", svc.gotQuery)
	}
}

func TestHandler_SearchLocations_EmptyIsArray(t *testing.T) {
	handler := NewHandler(&mockWeatherService{}, Limits{}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.SearchLocations(w, httptest.NewRequest("GET", "/weather/locations/search?q=Atlantis", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestHandler_SearchLocations_MissingQuery(t *testing.T) {
	handler := NewHandler(&mockWeatherService{}, Limits{}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.SearchLocations(w, httptest.NewRequest("GET", "/weather/locations/search", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decodeError(t, w); body.Error.Code != "INVALID_QUERY" {
		t.Errorf("code = %q, want INVALID_QUERY", body.Error.Code)
	}
}

func TestHandler_GetHealth(t *testing.T) {
	traffic.Reset()
	handler := NewHandler(&mockWeatherService{}, Limits{}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["service"] != "weather-aggregation-service" {
		t.Errorf("service = %v", body["service"])
	}
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	traffic.Reset()
	handler := NewHandler(&mockWeatherService{}, Limits{}, &HealthConfig{}, zap.NewNop())
	handler.BeginShutdown()

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "shutting-down" {
		t.Errorf("status = %v, want shutting-down", body["status"])
	}
}

func TestHandler_GetHealth_Overloaded(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	handler := NewHandler(&mockWeatherService{}, Limits{}, &HealthConfig{
		OverloadWindow:       time.Minute,
		OverloadThresholdPct: 50,
	}, zap.NewNop())

	traffic.Record(traffic.Success)
	traffic.Record(traffic.Denied)
	traffic.Record(traffic.Denied)

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	var body map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusServiceUnavailable || body["status"] != "overloaded" {
		t.Errorf("got %d %v, want 503 overloaded", w.Code, body["status"])
	}
}

func TestHandler_GetHealth_DegradedErrorRate(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	handler := NewHandler(&mockWeatherService{}, Limits{}, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, zap.NewNop())

	traffic.Record(traffic.Success)
	traffic.Record(traffic.Error)
	traffic.Record(traffic.Error)

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusServiceUnavailable || body.Status != "degraded" {
		t.Errorf("got %d %q, want 503 degraded", w.Code, body.Status)
	}
	if body.Checks["providers"] != "unhealthy" {
		t.Errorf("checks.providers = %q, want unhealthy", body.Checks["providers"])
	}
}

func TestHandler_GetHealth_NotDegraded_BelowErrorThreshold(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	handler := NewHandler(&mockWeatherService{}, Limits{}, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, zap.NewNop())

	traffic.Record(traffic.Success)
	traffic.Record(traffic.Success)
	traffic.Record(traffic.Error)

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestHandler_GetHealth_CachePing(t *testing.T) {
	traffic.Reset()
	tests := []struct {
		name string
		ping error
		want string
	}{
		{"reachable", nil, "healthy"},
		{"unreachable", errors.New("dial tcp: refused"), "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(&mockWeatherService{}, Limits{}, &HealthConfig{
				CachePing: func(context.Context) error { return tt.ping },
			}, zap.NewNop())

			w := httptest.NewRecorder()
			handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

			var body struct {
				Checks map[string]string `json:"checks"`
			}
			_ = json.NewDecoder(w.Body).Decode(&body)
			if body.Checks["cache"] != tt.want {
				t.Errorf("checks.cache = %q, want %q", body.Checks["cache"], tt.want)
			}
		})
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	core, logs := observer.New(zap.DebugLevel)
	handler := NewHandler(&mockWeatherService{}, Limits{}, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, zap.New(core))

	traffic.Record(traffic.Success)
	traffic.Record(traffic.Success)
	req := httptest.NewRequest("GET", "/health", nil)
	handler.GetHealth(httptest.NewRecorder(), req)
	if logs.Len() != 0 {
		t.Fatalf("first call should not log transition; got %d logs", logs.Len())
	}

	traffic.Record(traffic.Error)
	traffic.Record(traffic.Error)
	w := httptest.NewRecorder()
	handler.GetHealth(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second GetHealth status = %d, want 503", w.Code)
	}

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 transition log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "error_rate_breach" {
		t.Errorf("transition fields = %v", fields)
	}

	handler.GetHealth(httptest.NewRecorder(), req)
	if logs.Len() != 1 {
		t.Errorf("unchanged status should not log; total logs = %d, want 1", logs.Len())
	}
}

func TestHandler_RecordsTrafficOutcomes(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()

	ok := NewHandler(&mockWeatherService{}, Limits{}, nil, zap.NewNop())
	ok.GetCurrentWeather(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/current?location=Paris", nil))

	notFound := NewHandler(&mockWeatherService{err: service.ErrLocationNotFound}, Limits{}, nil, zap.NewNop())
	notFound.GetCurrentWeather(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/current?location=Atlantis", nil))

	failing := NewHandler(&mockWeatherService{err: &service.UpstreamError{Failures: []service.ProviderFailure{
		{Provider: "openweathermap", Err: errors.New("HTTP 500")},
	}}}, Limits{}, nil, zap.NewNop())
	failing.GetCurrentWeather(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/current?location=Paris", nil))

	errs, total := traffic.ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = %d/%d, want 1/3", errs, total)
	}
}
