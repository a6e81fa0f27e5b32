// Package cache is the route snapshot cache fronting the registry for C5:
// a short-TTL read cache, invalidated on every route mutation, with an
// optional shared Redis backend so a second control-plane process can
// observe route changes without re-querying the registry on every
// request. Grounded on the teacher's Redis-backed cache layer, narrowed
// to the one shape this module actually needs: subdomain -> port.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"sitedeploy/internal/logging"
)

// RouteSource is whatever can answer a cache miss: the registry.
type RouteSource interface {
	GetRouteBySubdomain(subdomain string) (port int, ok bool, err error)
}

// RouteCache implements proxy.RouteLookup. It is always backed by an
// in-memory map; when redisAddr is non-empty it also mirrors writes to
// Redis and consults it before falling back to the source, so a second
// control-plane process sees route changes made by the first without
// waiting out its own TTL.
type RouteCache struct {
	source RouteSource
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]routeEntry

	redis *redis.Client
}

type routeEntry struct {
	port      int
	expiresAt time.Time
}

// Config parameterizes the cache. RedisAddr empty means memory-only.
type Config struct {
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
}

func DefaultConfig() Config {
	return Config{TTL: 5 * time.Second}
}

func NewRouteCache(source RouteSource, cfg Config) *RouteCache {
	c := &RouteCache{
		source:  source,
		ttl:     cfg.TTL,
		entries: make(map[string]routeEntry),
	}
	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.redis.Ping(ctx).Err(); err != nil {
			logging.S().Warnw("route cache redis unreachable, continuing memory-only", "addr", cfg.RedisAddr, "error", err)
			c.redis = nil
		}
	}
	return c
}

// Lookup satisfies proxy.RouteLookup.
func (c *RouteCache) Lookup(subdomain string) (int, bool) {
	if port, ok := c.lookupMemory(subdomain); ok {
		return port, true
	}
	if port, ok := c.lookupRedis(subdomain); ok {
		c.storeMemory(subdomain, port)
		return port, true
	}

	port, ok, err := c.source.GetRouteBySubdomain(subdomain)
	if err != nil || !ok {
		return 0, false
	}
	c.Set(subdomain, port)
	return port, true
}

func (c *RouteCache) lookupMemory(subdomain string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[subdomain]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.port, true
}

func (c *RouteCache) storeMemory(subdomain string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[subdomain] = routeEntry{port: port, expiresAt: time.Now().Add(c.ttl)}
}

func (c *RouteCache) lookupRedis(subdomain string) (int, bool) {
	if c.redis == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := c.redis.Get(ctx, redisKey(subdomain)).Result()
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return port, true
}

// Set records a fresh route, called by the orchestrator on add_route.
func (c *RouteCache) Set(subdomain string, port int) {
	c.storeMemory(subdomain, port)
	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.redis.Set(ctx, redisKey(subdomain), port, c.ttl*6).Err(); err != nil {
		logging.S().Warnw("route cache redis set failed", "subdomain", subdomain, "error", err)
	}
}

// Invalidate drops a single route, called by the orchestrator on
// remove_route so a stale entry never outlives its TTL unnecessarily.
func (c *RouteCache) Invalidate(subdomain string) {
	c.mu.Lock()
	delete(c.entries, subdomain)
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.redis.Del(ctx, redisKey(subdomain)).Err(); err != nil {
		logging.S().Warnw("route cache redis del failed", "subdomain", subdomain, "error", err)
	}
}

// InvalidateAll clears the memory layer, used after a bulk reload so
// the in-process router immediately reflects the registry's new state
// rather than waiting out in-flight TTLs.
func (c *RouteCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]routeEntry)
	c.mu.Unlock()
}

func (c *RouteCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func redisKey(subdomain string) string {
	return "route:" + subdomain
}
