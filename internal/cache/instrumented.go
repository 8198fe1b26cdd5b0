package cache

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// ErrDecode marks a stored value that could not be decoded.
var ErrDecode = errors.New("cache decode")

// Instrumented wraps a Cache and records hits, misses, errors and latency under cacheType.
type Instrumented[V any] struct {
	inner     Cache[V]
	cacheType string
}

// Instrument returns c wrapped with metrics.
func Instrument[V any](c Cache[V], cacheType string) *Instrumented[V] {
	return &Instrumented[V]{inner: c, cacheType: cacheType}
}

func (c *Instrumented[V]) Get(ctx context.Context, key string) (V, bool, error) {
	start := time.Now()
	v, ok, err := c.inner.Get(ctx, key)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(elapsed)
	case ok:
		observability.CacheHitsTotal.WithLabelValues(c.cacheType).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(elapsed)
	default:
		observability.CacheMissesTotal.WithLabelValues(c.cacheType).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(elapsed)
	}
	return v, ok, err
}

func (c *Instrumented[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(elapsed)
		return err
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(elapsed)
	return nil
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, ErrDecode) {
		return "decode"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	return "unknown"
}
