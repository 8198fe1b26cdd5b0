package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

type fakeGeocoder struct {
	results map[string][]models.Location
	calls   atomic.Int32
}

func (g *fakeGeocoder) Search(ctx context.Context, query string) []models.Location {
	g.calls.Add(1)
	if r, ok := g.results[query]; ok {
		return r
	}
	return []models.Location{}
}

type fakeProvider struct {
	name     string
	current  models.CurrentWeather
	forecast models.Forecast
	err      error
	// delay blocks each call until it elapses or ctx ends.
	delay time.Duration

	calls     atomic.Int32
	cancelled chan struct{}
	once      sync.Once

	mu      sync.Mutex
	lastLat float64
	lastLon float64
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, cancelled: make(chan struct{})}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) wait(ctx context.Context) error {
	p.calls.Add(1)
	if p.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		p.once.Do(func() { close(p.cancelled) })
		return ctx.Err()
	}
}

func (p *fakeProvider) record(lat, lon float64) {
	p.mu.Lock()
	p.lastLat, p.lastLon = lat, lon
	p.mu.Unlock()
}

func (p *fakeProvider) FetchCurrent(ctx context.Context, lat, lon float64) (models.CurrentWeather, error) {
	p.record(lat, lon)
	if err := p.wait(ctx); err != nil {
		return models.CurrentWeather{}, err
	}
	if p.err != nil {
		return models.CurrentWeather{}, p.err
	}
	return p.current, nil
}

func (p *fakeProvider) FetchForecast(ctx context.Context, lat, lon float64, days int) (models.Forecast, error) {
	p.record(lat, lon)
	if err := p.wait(ctx); err != nil {
		return models.Forecast{}, err
	}
	if p.err != nil {
		return models.Forecast{}, p.err
	}
	return p.forecast, nil
}

type mapCache[V any] struct {
	mu     sync.Mutex
	data   map[string]V
	getErr error
	setErr error
	sets   int
}

func newMapCache[V any]() *mapCache[V] {
	return &mapCache[V]{data: make(map[string]V)}
}

func (c *mapCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	if c.getErr != nil {
		return zero, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *mapCache[V]) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *mapCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func forecastOf(dates []string, maxT, minT, precip []float64, conds []string) models.Forecast {
	f := models.Forecast{}
	for i := range dates {
		f.Days = append(f.Days, models.DailyForecast{
			Date:          dates[i],
			MaxTemp:       maxT[i],
			MinTemp:       minT[i],
			Precipitation: precip[i],
			Conditions:    conds[i],
		})
	}
	return f
}
