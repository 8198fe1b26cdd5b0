package service

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// coalescer shares one in-flight aggregation among concurrent callers for the same key.
// The shared work runs detached from any single caller's cancellation; each caller
// still stops waiting when its own context ends.
type coalescer struct {
	group singleflight.Group
}

func coalesce[T any](ctx context.Context, c *coalescer, cacheType, key string, fn func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return fn(ctx)
	}

	ch := c.group.DoChan(cacheType+":"+key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(cacheType).Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
