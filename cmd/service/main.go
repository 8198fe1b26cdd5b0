package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/admission"
	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/config"
	httphandler "github.com/kjstillabower/weather-aggregation-service/internal/http"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
	"github.com/kjstillabower/weather-aggregation-service/internal/scheduler"
	"github.com/kjstillabower/weather-aggregation-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.FlushLogger(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	geocoder, providers, err := newUpstreams(cfg, logger)
	if err != nil {
		logger.Fatal("upstream clients", zap.Error(err))
	}

	caches, err := newCaches(cfg)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	aggregator, err := service.NewAggregator(geocoder, providers, caches.current, caches.forecast, service.Options{
		ProviderTimeout:     cfg.ProviderTimeout,
		CurrentTTL:          cfg.CurrentTTL,
		ForecastTTL:         cfg.ForecastTTL,
		ConditionPrecedence: cfg.ConditionPrecedence,
		DateProvider:        cfg.DateProvider,
		CoalesceEnabled:     cfg.CoalesceEnabled,
	}, logger)
	if err != nil {
		logger.Fatal("aggregator", zap.Error(err))
	}

	var limiter *admission.Limiter
	if cfg.AdmissionEnabled {
		limiter = admission.New(admission.Config{
			Capacity:     cfg.AdmissionCapacity,
			RefillTokens: cfg.AdmissionRefillTokens,
			RefillPeriod: cfg.AdmissionRefillPeriod,
			IdleTTL:      cfg.AdmissionIdleTTL,
		})
		logger.Info("admission enabled",
			zap.Int("capacity", cfg.AdmissionCapacity),
			zap.Int("refill_tokens", cfg.AdmissionRefillTokens),
			zap.Duration("refill_period", cfg.AdmissionRefillPeriod))
	}

	observability.RegisterTrafficGauges(cfg.OverloadWindow)
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	jobs, err := newScheduler(cfg, aggregator, limiter, logger)
	if err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	// The scheduled warm job runs once on Start; without one, warm a single time here.
	if len(cfg.WarmLocations) > 0 && cfg.WarmInterval <= 0 {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.WarmTimeout)
		if err := cache.NewCacheWarmer(aggregator, cfg.ForecastDefaultDays, logger).Warm(warmCtx, cfg.WarmLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}
	jobs.Start()

	handler := httphandler.NewHandler(aggregator, httphandler.Limits{
		LocationMinLength:   cfg.LocationMinLength,
		LocationMaxLength:   cfg.LocationMaxLength,
		QueryMaxLength:      cfg.QueryMaxLength,
		DefaultForecastDays: cfg.ForecastDefaultDays,
		MaxForecastDays:     cfg.ForecastMaxDays,
	}, &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		CachePing:            caches.ping,
	}, logger)

	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout:    cfg.RequestTimeout,
		Admission:         limiter,
		TrustForwardedFor: cfg.TrustForwardedFor,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.BeginShutdown()
	jobs.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if caches.close != nil {
		if err := caches.close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

func httpConfig(cfg *config.Config) client.HTTPConfig {
	return client.HTTPConfig{
		Client:         &http.Client{},
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Breaker: client.BreakerSettings{
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
			MaxRequests:      uint32(cfg.BreakerMaxRequests),
			Interval:         cfg.BreakerInterval,
			Timeout:          cfg.BreakerTimeout,
		},
	}
}

// newUpstreams builds the geocoder and the providers in fan-out order.
func newUpstreams(cfg *config.Config, logger *zap.Logger) (client.Geocoder, []client.Provider, error) {
	geocoder, err := client.NewOpenWeatherGeocoder(cfg.OpenWeatherAPIKey, cfg.GeocodingURL, cfg.GeocodingLimit, httpConfig(cfg), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("geocoder: %w", err)
	}
	owm, err := client.NewOpenWeatherMap(cfg.OpenWeatherAPIKey, cfg.OpenWeatherMapURL, httpConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("openweathermap: %w", err)
	}
	providers := []client.Provider{
		client.NewOpenMeteo(cfg.OpenMeteoURL, httpConfig(cfg)),
		owm,
	}
	return geocoder, providers, nil
}

// cacheSet is the pair of typed caches sharing one backend connection.
type cacheSet struct {
	current  cache.Cache[models.CurrentWeather]
	forecast cache.Cache[models.Forecast]
	ping     func(ctx context.Context) error // nil for in_memory
	close    func() error                    // nil for in_memory
}

func newCaches(cfg *config.Config) (cacheSet, error) {
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc := cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		return cacheSet{
			current:  cache.Instrument[models.CurrentWeather](cache.NewMemcachedCache[models.CurrentWeather](mc, "current"), "memcached"),
			forecast: cache.Instrument[models.Forecast](cache.NewMemcachedCache[models.Forecast](mc, "forecast"), "memcached"),
			ping:     func(context.Context) error { return mc.Ping() },
			close:    mc.Close,
		}, nil
	case config.BackendRedis:
		rc := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTimeout)
		return cacheSet{
			current:  cache.Instrument[models.CurrentWeather](cache.NewRedisCache[models.CurrentWeather](rc, "current"), "redis"),
			forecast: cache.Instrument[models.Forecast](cache.NewRedisCache[models.Forecast](rc, "forecast"), "redis"),
			ping:     func(ctx context.Context) error { return rc.Ping(ctx).Err() },
			close:    rc.Close,
		}, nil
	case config.BackendInMemory:
		return cacheSet{
			current:  cache.Instrument[models.CurrentWeather](cache.NewInMemoryCache[models.CurrentWeather](cfg.CacheMaxEntries), "in_memory"),
			forecast: cache.Instrument[models.Forecast](cache.NewInMemoryCache[models.Forecast](cfg.CacheMaxEntries), "in_memory"),
		}, nil
	default:
		return cacheSet{}, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// newScheduler registers periodic cache warming and admission bucket pruning.
func newScheduler(cfg *config.Config, fetcher cache.WeatherFetcher, limiter *admission.Limiter, logger *zap.Logger) (*scheduler.Scheduler, error) {
	s := scheduler.New(logger)
	if len(cfg.WarmLocations) > 0 && cfg.WarmInterval > 0 {
		warmer := cache.NewCacheWarmer(fetcher, cfg.ForecastDefaultDays, logger)
		err := s.Add("cache_warm", cfg.WarmInterval, cfg.WarmTimeout, func(ctx context.Context) error {
			return warmer.Warm(ctx, cfg.WarmLocations)
		})
		if err != nil {
			return nil, fmt.Errorf("schedule cache warming: %w", err)
		}
	}
	if limiter != nil {
		err := s.Add("admission_prune", cfg.AdmissionPruneInterval, cfg.AdmissionPruneInterval, func(context.Context) error {
			if n := limiter.Prune(); n > 0 {
				logger.Debug("pruned idle admission buckets", zap.Int("removed", n))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("schedule admission pruning: %w", err)
		}
	}
	return s, nil
}
