package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache[models.CurrentWeather](0)
	ctx := context.Background()
	_ = c.Set(ctx, "Seattle", models.CurrentWeather{Temperature: 12}, 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "Seattle")
	}
}

func BenchmarkInMemoryCache_Set_Bounded(b *testing.B) {
	c := NewInMemoryCache[models.CurrentWeather](1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Set(ctx, fmt.Sprintf("loc-%d", i%2000), models.CurrentWeather{}, 5*time.Minute)
	}
}

func BenchmarkInMemoryCache_Concurrent(b *testing.B) {
	c := NewInMemoryCache[models.CurrentWeather](0)
	ctx := context.Background()
	_ = c.Set(ctx, "Seattle", models.CurrentWeather{Temperature: 12}, 5*time.Minute)

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = c.Get(ctx, "Seattle")
		}
	})
}
