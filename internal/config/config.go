package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-aggregation-service/internal/client"
)

// Provider names accepted in aggregation.condition_precedence and aggregation.date_provider.
const (
	ProviderOpenMeteo      = "openmeteo"
	ProviderOpenWeatherMap = "openweathermap"
)

// Cache backends accepted in cache.backend.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// maxForecastDays is the longest forecast both providers can serve.
const maxForecastDays = client.MaxForecastDays

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort                    string
	RequestTimeout                time.Duration
	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OpenWeatherAPIKey string
	OpenMeteoURL      string
	OpenWeatherMapURL string
	GeocodingURL      string
	GeocodingLimit    int

	ProviderTimeout     time.Duration
	ConditionPrecedence []string
	DateProvider        string
	CoalesceEnabled     bool

	LocationMinLength   int
	LocationMaxLength   int
	QueryMaxLength      int
	ForecastDefaultDays int
	ForecastMaxDays     int

	CacheBackend    string // in_memory, memcached or redis
	CurrentTTL      time.Duration
	ForecastTTL     time.Duration
	CacheMaxEntries int
	WarmLocations   []string
	WarmInterval    time.Duration
	WarmTimeout     time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	RetryAttempts           int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	BreakerFailureThreshold int
	BreakerMaxRequests      int
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration

	AdmissionEnabled       bool
	AdmissionCapacity      int
	AdmissionRefillTokens  int
	AdmissionRefillPeriod  time.Duration
	AdmissionIdleTTL       time.Duration
	AdmissionPruneInterval time.Duration
	TrustForwardedFor      bool

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Providers struct {
		OpenMeteoURL      string `yaml:"openmeteo_url"`
		OpenWeatherMapURL string `yaml:"openweathermap_url"`
	} `yaml:"providers"`

	Geocoding struct {
		URL   string `yaml:"url"`
		Limit int    `yaml:"limit"`
	} `yaml:"geocoding"`

	Aggregation struct {
		ProviderTimeout     string   `yaml:"provider_timeout"`
		ConditionPrecedence []string `yaml:"condition_precedence"`
		DateProvider        string   `yaml:"date_provider"`
		Coalesce            *bool    `yaml:"coalesce"`
	} `yaml:"aggregation"`

	Validation struct {
		LocationMinLength int `yaml:"location_min_length"`
		LocationMaxLength int `yaml:"location_max_length"`
		QueryMaxLength    int `yaml:"query_max_length"`
	} `yaml:"validation"`

	Forecast struct {
		DefaultDays int `yaml:"default_days"`
		MaxDays     int `yaml:"max_days"`
	} `yaml:"forecast"`

	Cache struct {
		Backend       string   `yaml:"backend"`
		CurrentTTL    string   `yaml:"current_ttl"`
		ForecastTTL   string   `yaml:"forecast_ttl"`
		MaxEntries    int      `yaml:"max_entries"`
		WarmLocations []string `yaml:"warm_locations"`
		WarmInterval  string   `yaml:"warm_interval"`
		WarmTimeout   string   `yaml:"warm_timeout"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr    string `yaml:"addr"`
			DB      int    `yaml:"db"`
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerMaxRequests      int    `yaml:"breaker_max_requests"`
		BreakerInterval         string `yaml:"breaker_interval"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Admission struct {
		Enabled           *bool  `yaml:"enabled"`
		Capacity          int    `yaml:"capacity"`
		RefillTokens      int    `yaml:"refill_tokens"`
		RefillPeriod      string `yaml:"refill_period"`
		IdleTTL           string `yaml:"idle_ttl"`
		PruneInterval     string `yaml:"prune_interval"`
		TrustForwardedFor bool   `yaml:"trust_forwarded_for"`
	} `yaml:"admission"`

	Health struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
	RedisPassword     string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// after loading a .env file from the working directory if one exists. The API key comes from
// OPENWEATHER_API_KEY env or the secrets file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := fromFile(&fc)

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	if cfg.OpenWeatherAPIKey == "" {
		cfg.OpenWeatherAPIKey = sec.OpenWeatherAPIKey
	}
	if cfg.OpenWeatherAPIKey == "" {
		return nil, fmt.Errorf("OPENWEATHER_API_KEY required (set env or config/secrets.yaml openweather_api_key)")
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = sec.RedisPassword
	}
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// fromFile applies per-field defaults over the parsed file.
func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 10*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 15*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OpenMeteoURL = orDefault(fc.Providers.OpenMeteoURL, "https://api.open-meteo.com/v1")
	cfg.OpenWeatherMapURL = orDefault(fc.Providers.OpenWeatherMapURL, "https://api.openweathermap.org/data/2.5")
	cfg.GeocodingURL = orDefault(fc.Geocoding.URL, "https://api.openweathermap.org/geo/1.0")
	cfg.GeocodingLimit = positiveOr(fc.Geocoding.Limit, 10)

	cfg.ProviderTimeout = parseDurationOrZero(fc.Aggregation.ProviderTimeout, 5*time.Second)
	cfg.ConditionPrecedence = fc.Aggregation.ConditionPrecedence
	if len(cfg.ConditionPrecedence) == 0 {
		cfg.ConditionPrecedence = []string{ProviderOpenWeatherMap, ProviderOpenMeteo}
	}
	cfg.DateProvider = orDefault(fc.Aggregation.DateProvider, ProviderOpenMeteo)
	if fc.Aggregation.Coalesce != nil {
		cfg.CoalesceEnabled = *fc.Aggregation.Coalesce
	}

	cfg.LocationMinLength = positiveOr(fc.Validation.LocationMinLength, 1)
	cfg.LocationMaxLength = positiveOr(fc.Validation.LocationMaxLength, 100)
	cfg.QueryMaxLength = positiveOr(fc.Validation.QueryMaxLength, 100)
	cfg.ForecastDefaultDays = positiveOr(fc.Forecast.DefaultDays, 5)
	cfg.ForecastMaxDays = fc.Forecast.MaxDays
	if cfg.ForecastMaxDays == 0 {
		cfg.ForecastMaxDays = maxForecastDays
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = BackendInMemory
	}
	cfg.CurrentTTL = parseDuration(fc.Cache.CurrentTTL, 10*time.Minute)
	cfg.ForecastTTL = parseDuration(fc.Cache.ForecastTTL, 30*time.Minute)
	cfg.CacheMaxEntries = positiveOr(fc.Cache.MaxEntries, 10000)
	cfg.WarmLocations = fc.Cache.WarmLocations
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)
	cfg.WarmTimeout = parseDuration(fc.Cache.WarmTimeout, 30*time.Second)

	cfg.MemcachedAddrs = orDefault(strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.RedisAddr = orDefault(strings.TrimSpace(fc.Cache.Redis.Addr), "localhost:6379")
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.BreakerFailureThreshold = positiveOr(fc.Reliability.BreakerFailureThreshold, 5)
	cfg.BreakerMaxRequests = positiveOr(fc.Reliability.BreakerMaxRequests, 1)
	cfg.BreakerInterval = parseDuration(fc.Reliability.BreakerInterval, time.Minute)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.AdmissionEnabled = true
	if fc.Admission.Enabled != nil {
		cfg.AdmissionEnabled = *fc.Admission.Enabled
	}
	cfg.AdmissionCapacity = positiveOr(fc.Admission.Capacity, 10)
	cfg.AdmissionRefillTokens = positiveOr(fc.Admission.RefillTokens, 10)
	cfg.AdmissionRefillPeriod = parseDuration(fc.Admission.RefillPeriod, time.Minute)
	cfg.AdmissionIdleTTL = parseDuration(fc.Admission.IdleTTL, 10*time.Minute)
	cfg.AdmissionPruneInterval = parseDuration(fc.Admission.PruneInterval, time.Minute)
	cfg.TrustForwardedFor = fc.Admission.TrustForwardedFor

	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Health.OverloadThresholdPct, 50)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 20)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	return cfg
}

// applyEnvOverrides lets deployment env replace backend selection and addresses.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(os.Getenv("FORECAST_MAX_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ForecastMaxDays = n
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func positiveOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate rejects inconsistent values. RequestTimeout is raised above
// ProviderTimeout so the per-provider deadline fires first.
func validate(cfg *Config) error {
	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("aggregation.provider_timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ProviderTimeout {
		cfg.RequestTimeout = cfg.ProviderTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	for _, name := range cfg.ConditionPrecedence {
		if !knownProvider(name) {
			return fmt.Errorf("aggregation.condition_precedence: unknown provider %q", name)
		}
	}
	if !knownProvider(cfg.DateProvider) {
		return fmt.Errorf("aggregation.date_provider: unknown provider %q", cfg.DateProvider)
	}
	if cfg.ForecastMaxDays < 1 || cfg.ForecastMaxDays > maxForecastDays {
		return fmt.Errorf("forecast.max_days must be between 1 and %d, got %d", maxForecastDays, cfg.ForecastMaxDays)
	}
	if cfg.ForecastDefaultDays > cfg.ForecastMaxDays {
		return fmt.Errorf("forecast.default_days (%d) exceeds forecast.max_days (%d)", cfg.ForecastDefaultDays, cfg.ForecastMaxDays)
	}
	if cfg.LocationMinLength > cfg.LocationMaxLength {
		return fmt.Errorf("validation.location_min_length (%d) exceeds location_max_length (%d)", cfg.LocationMinLength, cfg.LocationMaxLength)
	}
	return nil
}

func knownProvider(name string) bool {
	return name == ProviderOpenMeteo || name == ProviderOpenWeatherMap
}
