package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weather:"

// memcached rejects keys over 250 bytes and keys containing spaces or control characters.
const maxMemcachedKeyLen = 250

// memcached treats expirations above 30 days as absolute Unix times.
const maxRelativeExp = 30 * 24 * 60 * 60

// NewMemcachedClient creates a client for addrs, a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns use package defaults if zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) *memcache.Client {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return client
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// MemcachedCache implements Cache on memcached with JSON-encoded values.
// Several caches may share one client; namespace keeps their keys apart.
type MemcachedCache[V any] struct {
	client    *memcache.Client
	namespace string
}

// NewMemcachedCache returns a cache storing keys under "weather:<namespace>:".
func NewMemcachedCache[V any](client *memcache.Client, namespace string) *MemcachedCache[V] {
	return &MemcachedCache[V]{client: client, namespace: namespace}
}

// key escapes k so free-text locations are legal memcached keys.
func (c *MemcachedCache[V]) key(k string) string {
	full := keyPrefix + c.namespace + ":" + url.QueryEscape(k)
	if len(full) <= maxMemcachedKeyLen {
		return full
	}
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + c.namespace + ":h:" + hex.EncodeToString(sum[:])
}

func (c *MemcachedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(item.Value, &v); err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, true, nil
}

func (c *MemcachedCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: memcachedExpiration(ttl),
	})
}

// memcachedExpiration converts ttl to whole seconds. No ttl means one hour;
// anything under a second still expires after one.
func memcachedExpiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 3600
	}
	secs := int64(ttl / time.Second)
	if secs < 1 {
		return 1
	}
	if secs > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(secs)
}
