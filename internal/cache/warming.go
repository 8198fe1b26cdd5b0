package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// WeatherFetcher is implemented by the aggregator; fetching through it populates the cache.
// Declared here so the cache package does not depend on the service package.
type WeatherFetcher interface {
	GetCurrentWeather(ctx context.Context, location string) (models.CurrentWeather, error)
	GetForecast(ctx context.Context, location string, days int) (models.Forecast, error)
}

// CacheWarmer prefetches weather for a fixed list of locations.
type CacheWarmer struct {
	fetcher      WeatherFetcher
	forecastDays int
	logger       *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. forecastDays > 0 also warms the forecast for that many days.
func NewCacheWarmer(fetcher WeatherFetcher, forecastDays int, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, forecastDays: forecastDays, logger: logger}
}

// Warm fetches each location concurrently. All locations are attempted; the
// returned error joins every failure.
func (w *CacheWarmer) Warm(ctx context.Context, locations []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)), zap.Int("forecast_days", w.forecastDays))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, loc := range locations {
		wg.Add(1)
		go func(loc string) {
			defer wg.Done()
			if _, err := w.fetcher.GetCurrentWeather(ctx, loc); err != nil {
				fail(fmt.Errorf("warm current %s: %w", loc, err))
			}
			if w.forecastDays > 0 {
				if _, err := w.fetcher.GetForecast(ctx, loc, w.forecastDays); err != nil {
					fail(fmt.Errorf("warm forecast %s: %w", loc, err))
				}
			}
		}(loc)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}
