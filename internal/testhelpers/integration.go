//go:build integration
// +build integration

// Package testhelpers builds live-API fixtures for integration tests.
package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey         string
	OpenMeteoURL   string
	OpenWeatherURL string
	GeocodingURL   string
	CacheBackend   string // in_memory, memcached or redis
	MemcachedAddr  string
	RedisAddr      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:         apiKey,
		OpenMeteoURL:   envOr("OPENMETEO_URL", client.DefaultOpenMeteoURL),
		OpenWeatherURL: envOr("OPENWEATHERMAP_URL", client.DefaultOpenWeatherMapURL),
		GeocodingURL:   envOr("GEOCODING_URL", client.DefaultGeocodingURL),
		CacheBackend:   os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr:  envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:      envOr("REDIS_ADDR", "localhost:6379"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SetupIntegrationAggregator builds an Aggregator against the live provider APIs.
// Remote cache backends fall back to in-memory when unreachable.
func SetupIntegrationAggregator(t *testing.T, cfg IntegrationTestConfig) *service.Aggregator {
	t.Helper()
	logger := zaptest.NewLogger(t)

	httpCfg := client.DefaultHTTPConfig()
	geocoder, err := client.NewOpenWeatherGeocoder(cfg.APIKey, cfg.GeocodingURL, 0, httpCfg, logger)
	if err != nil {
		t.Fatalf("NewOpenWeatherGeocoder() error = %v", err)
	}
	owm, err := client.NewOpenWeatherMap(cfg.APIKey, cfg.OpenWeatherURL, httpCfg)
	if err != nil {
		t.Fatalf("NewOpenWeatherMap() error = %v", err)
	}

	current, forecast := setupCaches(t, cfg)
	agg, err := service.NewAggregator(
		geocoder,
		[]client.Provider{client.NewOpenMeteo(cfg.OpenMeteoURL, httpCfg), owm},
		current, forecast,
		service.Options{ProviderTimeout: 10 * time.Second},
		logger,
	)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	return agg
}

func setupCaches(t *testing.T, cfg IntegrationTestConfig) (cache.Cache[models.CurrentWeather], cache.Cache[models.Forecast]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedClient(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err != nil {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
			break
		}
		t.Cleanup(func() { _ = mc.Close() })
		t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		return cache.NewMemcachedCache[models.CurrentWeather](mc, "it-current"),
			cache.NewMemcachedCache[models.Forecast](mc, "it-forecast")
	case "redis":
		rc := cache.NewRedisClient(cfg.RedisAddr, "", 0, 500*time.Millisecond)
		if err := rc.Ping(ctx).Err(); err != nil {
			t.Logf("Redis not available (%v), using in-memory cache", err)
			break
		}
		t.Cleanup(func() { _ = rc.Close() })
		t.Logf("Using Redis cache at %s", cfg.RedisAddr)
		return cache.NewRedisCache[models.CurrentWeather](rc, "it-current"),
			cache.NewRedisCache[models.Forecast](rc, "it-forecast")
	}
	return cache.NewInMemoryCache[models.CurrentWeather](100), cache.NewInMemoryCache[models.Forecast](100)
}
