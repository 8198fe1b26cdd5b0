package service

import (
	"sync"

	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// stampedeTracker counts in-progress misses per cache key. A second concurrent
// miss for the same key is a stampede; it is reported, not prevented.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// begin records a miss for key and returns the concurrent miss count and a
// func that must be called once the miss is resolved.
func (st *stampedeTracker) begin(cacheType, key string) (int, func()) {
	k := cacheType + ":" + key
	st.mu.Lock()
	st.active[k]++
	n := st.active[k]
	st.mu.Unlock()

	if n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(cacheType).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(cacheType).Observe(float64(n))
	}

	var once sync.Once
	return n, func() { once.Do(func() { st.end(k) }) }
}

func (st *stampedeTracker) end(k string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active[k] <= 1 {
		delete(st.active, k)
		return
	}
	st.active[k]--
}

func (st *stampedeTracker) inProgress(cacheType, key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[cacheType+":"+key]
}
