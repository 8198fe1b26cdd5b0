// Package admission gates requests per client with token buckets.
package admission

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// ErrAdmissionRejected means the client's bucket is empty.
var ErrAdmissionRejected = errors.New("admission rejected")

// Config sizes every client's bucket: Capacity tokens, refilled at
// RefillTokens per RefillPeriod. Buckets unused for IdleTTL are pruned.
type Config struct {
	Capacity     int
	RefillTokens int
	RefillPeriod time.Duration
	IdleTTL      time.Duration
}

// DefaultConfig allows a burst of 10 and 10 requests per minute after that.
func DefaultConfig() Config {
	return Config{
		Capacity:     10,
		RefillTokens: 10,
		RefillPeriod: time.Minute,
		IdleTTL:      10 * time.Minute,
	}
}

// Limiter holds one token bucket per client id.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a Limiter. Zero fields in cfg take DefaultConfig values.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.RefillTokens <= 0 {
		cfg.RefillTokens = def.RefillTokens
	}
	if cfg.RefillPeriod <= 0 {
		cfg.RefillPeriod = def.RefillPeriod
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(cfg.RefillTokens) / cfg.RefillPeriod.Seconds()),
		burst:   cfg.Capacity,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
}

// Admit takes one token from clientID's bucket, creating a full bucket on first use.
func (l *Limiter) Admit(clientID string) error {
	l.mu.Lock()
	now := l.now()
	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[clientID] = b
		observability.AdmissionClients.Set(float64(len(l.buckets)))
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		observability.AdmissionRejectedTotal.Inc()
		return fmt.Errorf("%w: client %s", ErrAdmissionRejected, clientID)
	}
	return nil
}

// RetryAfter estimates how long clientID must wait for its next token.
func (l *Limiter) RetryAfter(clientID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[clientID]
	if !ok {
		return 0
	}
	now := l.now()
	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// Prune drops buckets idle for longer than the configured TTL and returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			removed++
		}
	}
	observability.AdmissionClients.Set(float64(len(l.buckets)))
	return removed
}

// Clients returns the number of live buckets.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
