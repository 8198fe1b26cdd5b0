package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

const (
	kindCurrent  = "current"
	kindForecast = "forecast"
)

// Options tunes an Aggregator. Zero values take the defaults noted per field.
type Options struct {
	// ProviderTimeout bounds each provider call independently. Default 5s.
	ProviderTimeout time.Duration
	// CurrentTTL and ForecastTTL are the cache lifetimes. Defaults 10m and 30m.
	CurrentTTL  time.Duration
	ForecastTTL time.Duration
	// ConditionPrecedence lists provider names; the first configured one supplies conditions.
	ConditionPrecedence []string
	// DateProvider supplies forecast dates.
	DateProvider string
	// CoalesceEnabled shares one fan-out among concurrent misses for the same key.
	CoalesceEnabled bool
}

// Aggregator answers weather queries by fanning out to every provider and
// merging the results. A result is published only when every provider succeeded.
type Aggregator struct {
	geocoder      client.Geocoder
	providers     []client.Provider
	currentCache  cache.Cache[models.CurrentWeather]
	forecastCache cache.Cache[models.Forecast]
	opts          Options
	conditionIdx  int
	dateIdx       int
	stampede      *stampedeTracker
	coalescer     *coalescer
	logger        *zap.Logger
}

// NewAggregator wires an Aggregator. Providers are fanned out in the given order.
func NewAggregator(
	geocoder client.Geocoder,
	providers []client.Provider,
	currentCache cache.Cache[models.CurrentWeather],
	forecastCache cache.Cache[models.Forecast],
	opts Options,
	logger *zap.Logger,
) (*Aggregator, error) {
	if geocoder == nil {
		return nil, errors.New("aggregator: geocoder is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("aggregator: at least one provider is required")
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name()] {
			return nil, fmt.Errorf("aggregator: duplicate provider %q", p.Name())
		}
		seen[p.Name()] = true
	}
	if currentCache == nil || forecastCache == nil {
		return nil, errors.New("aggregator: caches are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 5 * time.Second
	}
	if opts.CurrentTTL <= 0 {
		opts.CurrentTTL = 10 * time.Minute
	}
	if opts.ForecastTTL <= 0 {
		opts.ForecastTTL = 30 * time.Minute
	}
	if len(opts.ConditionPrecedence) == 0 {
		opts.ConditionPrecedence = []string{client.OpenWeatherMapName, client.OpenMeteoName}
	}
	if opts.DateProvider == "" {
		opts.DateProvider = client.OpenMeteoName
	}

	a := &Aggregator{
		geocoder:      geocoder,
		providers:     providers,
		currentCache:  currentCache,
		forecastCache: forecastCache,
		opts:          opts,
		stampede:      newStampedeTracker(),
		logger:        logger,
	}
	a.conditionIdx = a.indexOf(opts.ConditionPrecedence...)
	a.dateIdx = a.indexOf(opts.DateProvider)
	if a.conditionIdx < 0 {
		logger.Warn("no condition provider configured; using first provider",
			zap.Strings("precedence", opts.ConditionPrecedence), zap.String("provider", providers[0].Name()))
		a.conditionIdx = 0
	}
	if a.dateIdx < 0 {
		logger.Warn("date provider not configured; using first provider",
			zap.String("date_provider", opts.DateProvider), zap.String("provider", providers[0].Name()))
		a.dateIdx = 0
	}
	if opts.CoalesceEnabled {
		a.coalescer = &coalescer{}
	}
	return a, nil
}

// indexOf returns the fan-out index of the first named provider that is configured, or -1.
func (a *Aggregator) indexOf(names ...string) int {
	for _, name := range names {
		for i, p := range a.providers {
			if p.Name() == name {
				return i
			}
		}
	}
	return -1
}

func (a *Aggregator) loggerFor(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return a.logger
}

// GetCurrentWeather returns the consensus current weather for locationQuery.
// The query is the cache key verbatim; distinct spellings are distinct entries.
func (a *Aggregator) GetCurrentWeather(ctx context.Context, locationQuery string) (models.CurrentWeather, error) {
	logger := a.loggerFor(ctx)
	key := locationQuery

	if v, ok := lookup(ctx, a.currentCache, key, logger); ok {
		observability.AggregationsTotal.WithLabelValues(kindCurrent, "cache_hit").Inc()
		logger.Debug("cache hit", zap.String("kind", kindCurrent), zap.String("location", locationQuery))
		return v, nil
	}

	_, done := a.stampede.begin(kindCurrent, key)
	defer done()

	v, err := coalesce(ctx, a.coalescer, kindCurrent, key, func(ctx context.Context) (models.CurrentWeather, error) {
		return a.aggregateCurrent(ctx, locationQuery, key)
	})
	recordOutcome(kindCurrent, err)
	return v, err
}

// GetForecast returns a days-long consensus forecast for locationQuery.
func (a *Aggregator) GetForecast(ctx context.Context, locationQuery string, days int) (models.Forecast, error) {
	if days < 1 {
		observability.AggregationsTotal.WithLabelValues(kindForecast, "invalid").Inc()
		return models.Forecast{}, fmt.Errorf("%w: got %d", ErrInvalidDays, days)
	}
	logger := a.loggerFor(ctx)
	key := forecastKey(locationQuery, days)

	if v, ok := lookup(ctx, a.forecastCache, key, logger); ok {
		observability.AggregationsTotal.WithLabelValues(kindForecast, "cache_hit").Inc()
		logger.Debug("cache hit", zap.String("kind", kindForecast), zap.String("location", locationQuery), zap.Int("days", days))
		return v, nil
	}

	_, done := a.stampede.begin(kindForecast, key)
	defer done()

	v, err := coalesce(ctx, a.coalescer, kindForecast, key, func(ctx context.Context) (models.Forecast, error) {
		return a.aggregateForecast(ctx, locationQuery, days, key)
	})
	recordOutcome(kindForecast, err)
	return v, err
}

// SearchLocations returns every geocoder candidate for query. Not cached.
func (a *Aggregator) SearchLocations(ctx context.Context, query string) []models.Location {
	return a.geocoder.Search(ctx, query)
}

// forecastKey joins query and days with a separator so "Paris1"+1 and "Paris"+11 differ.
func forecastKey(query string, days int) string {
	return query + "|" + strconv.Itoa(days)
}

func (a *Aggregator) aggregateCurrent(ctx context.Context, query, key string) (models.CurrentWeather, error) {
	logger := a.loggerFor(ctx)
	loc, err := a.resolve(ctx, query)
	if err != nil {
		return models.CurrentWeather{}, err
	}

	results := fanOut(ctx, kindCurrent, a.providers, a.opts.ProviderTimeout,
		func(ctx context.Context, p client.Provider) (models.CurrentWeather, error) {
			return p.FetchCurrent(ctx, loc.Latitude, loc.Longitude)
		})
	if failed := failures(results); failed != nil {
		return models.CurrentWeather{}, a.upstreamError(logger, kindCurrent, query, failed)
	}

	merged := mergeCurrent(results, a.conditionIdx)
	store(ctx, a.currentCache, key, merged, a.opts.CurrentTTL, logger)
	logger.Debug("aggregated", zap.String("kind", kindCurrent), zap.String("location", query), zap.String("resolved", loc.Name))
	return merged, nil
}

func (a *Aggregator) aggregateForecast(ctx context.Context, query string, days int, key string) (models.Forecast, error) {
	logger := a.loggerFor(ctx)
	loc, err := a.resolve(ctx, query)
	if err != nil {
		return models.Forecast{}, err
	}

	// One spare day lets alignDays drop a leading date only some providers report.
	results := fanOut(ctx, kindForecast, a.providers, a.opts.ProviderTimeout,
		func(ctx context.Context, p client.Provider) (models.Forecast, error) {
			return p.FetchForecast(ctx, loc.Latitude, loc.Longitude, days+1)
		})
	if failed := failures(results); failed != nil {
		return models.Forecast{}, a.upstreamError(logger, kindForecast, query, failed)
	}
	if failed := alignDays(results, days); failed != nil {
		return models.Forecast{}, a.upstreamError(logger, kindForecast, query, failed)
	}

	merged := mergeForecast(results, days, a.conditionIdx, a.dateIdx)
	store(ctx, a.forecastCache, key, merged, a.opts.ForecastTTL, logger)
	logger.Debug("aggregated", zap.String("kind", kindForecast), zap.String("location", query), zap.Int("days", days))
	return merged, nil
}

var errShortForecast = errors.New("provider returned fewer days than requested")

// alignDays trims every result to days entries starting at the latest first
// date any provider reported, so index i is the same calendar day everywhere.
// Near local midnight one provider may already start at tomorrow.
func alignDays(results []providerResult[models.Forecast], days int) []ProviderFailure {
	start := ""
	for _, r := range results {
		if len(r.value.Days) > 0 && r.value.Days[0].Date > start {
			start = r.value.Days[0].Date
		}
	}

	var failed []ProviderFailure
	for i := range results {
		d := results[i].value.Days
		for len(d) > 0 && d[0].Date < start {
			d = d[1:]
		}
		if len(d) < days {
			failed = append(failed, ProviderFailure{
				Provider: results[i].provider,
				Err:      fmt.Errorf("%w: %d of %d days from %s", errShortForecast, len(d), days, start),
			})
			continue
		}
		results[i].value.Days = d[:days]
	}
	return failed
}

// resolve takes the first geocoder candidate; the rest are ignored.
func (a *Aggregator) resolve(ctx context.Context, query string) (models.Location, error) {
	candidates := a.geocoder.Search(ctx, query)
	if len(candidates) == 0 {
		return models.Location{}, fmt.Errorf("%w: %q", ErrLocationNotFound, query)
	}
	return candidates[0], nil
}

func (a *Aggregator) upstreamError(logger *zap.Logger, kind, query string, failed []ProviderFailure) error {
	err := &UpstreamError{Failures: failed}
	logger.Warn("aggregation failed",
		zap.String("kind", kind),
		zap.String("location", query),
		zap.Strings("providers", err.Providers()),
		zap.Error(err),
	)
	return err
}

// lookup reads key; backend errors are logged and treated as a miss.
func lookup[V any](ctx context.Context, c cache.Cache[V], key string, logger *zap.Logger) (V, bool) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed; treating as miss", zap.String("key", key), zap.Error(err))
		var zero V
		return zero, false
	}
	return v, ok
}

// store writes key; failures are logged and never fail the request.
func store[V any](ctx context.Context, c cache.Cache[V], key string, v V, ttl time.Duration, logger *zap.Logger) {
	if err := c.Set(ctx, key, v, ttl); err != nil {
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func recordOutcome(kind string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrLocationNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrUpstreamFailure):
		outcome = "upstream_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "error"
	}
	observability.AggregationsTotal.WithLabelValues(kind, outcome).Inc()
}
