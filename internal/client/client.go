package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// Provider is one upstream weather source. Implementations normalize their
// wire format into models values and impose no timeout of their own.
type Provider interface {
	Name() string
	FetchCurrent(ctx context.Context, lat, lon float64) (models.CurrentWeather, error)
	FetchForecast(ctx context.Context, lat, lon float64, days int) (models.Forecast, error)
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrRateLimited       = errors.New("rate limited")
	ErrServerError       = errors.New("upstream server error")
	ErrUnexpectedStatus  = errors.New("unexpected status code")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// BreakerSettings configures the per-upstream circuit breaker.
// The breaker opens after FailureThreshold consecutive failures.
type BreakerSettings struct {
	FailureThreshold uint32
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
}

// HTTPConfig carries transport and resilience settings shared by all upstream clients.
type HTTPConfig struct {
	Client         *http.Client
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Breaker        BreakerSettings
}

// DefaultHTTPConfig returns the settings used when none are configured.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Client:         &http.Client{},
		RetryAttempts:  3,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  2 * time.Second,
		Breaker: BreakerSettings{
			FailureThreshold: 5,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
		},
	}
}

// transport performs GET+JSON calls against one upstream with retries and a breaker.
type transport struct {
	name           string
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func newTransport(name string, cfg HTTPConfig) *transport {
	def := DefaultHTTPConfig()
	if cfg.Client == nil {
		cfg.Client = def.Client
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = def.Breaker
	}

	threshold := cfg.Breaker.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(observability.CircuitBreakerStateValue(to.String()))
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	observability.CircuitBreakerState.WithLabelValues(name).Set(0)

	return &transport{
		name:           name,
		client:         cfg.Client,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		breaker:        breaker,
	}
}

// getJSON issues GET endpoint?params and decodes the body into out.
func (t *transport) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	var lastErr error

	for attempt := 0; attempt < t.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(t.name).Inc()
			timer := time.NewTimer(t.calculateBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := t.execute(ctx, endpoint, params, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(ctx, err) {
			return err
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

// execute runs one attempt through the breaker. Errors that say nothing about
// upstream health (bad credentials, caller cancellation) are passed out as
// values so they do not count toward tripping.
func (t *transport) execute(ctx context.Context, endpoint string, params url.Values, out any) error {
	result, err := t.breaker.Execute(func() (interface{}, error) {
		callErr := t.call(ctx, endpoint, params, out)
		if callErr != nil && !countsAsFailure(callErr) {
			return callErr, nil
		}
		return nil, callErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ProviderCallsTotal.WithLabelValues(t.name, "circuit_open").Inc()
		return fmt.Errorf("%w: %s: %v", ErrCircuitOpen, t.name, err)
	}
	if err != nil {
		return err
	}
	if passed, ok := result.(error); ok {
		return passed
	}
	return nil
}

func (t *transport) call(ctx context.Context, endpoint string, params url.Values, out any) error {
	start := time.Now()

	req, err := buildRequest(ctx, endpoint, params)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(t.name, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(t.name, "error").Inc()
		observability.ProviderDuration.WithLabelValues(t.name, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%s request failed: %w", t.name, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(t.name, status).Inc()
	observability.ProviderDuration.WithLabelValues(t.name, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", t.name, ErrMalformedResponse, err)
	}
	return nil
}

func buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrServerError, resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrServerError):
		return true
	case errors.Is(err, ErrInvalidAPIKey), errors.Is(err, ErrUnexpectedStatus),
		errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrCircuitOpen):
		return false
	}
	// Remaining errors come from the transport (dial, reset, EOF).
	return true
}

// countsAsFailure reports whether err reflects upstream health.
func countsAsFailure(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAPIKey), errors.Is(err, ErrUnexpectedStatus):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (t *transport) calculateBackoff(attempt int) time.Duration {
	delay := float64(t.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(t.retryMaxDelay) {
		delay = float64(t.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func formatCoord(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
