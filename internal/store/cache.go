package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
)

const (
	DefaultCacheTTL             = 10 * time.Minute
	DefaultCacheCleanupInterval = 30 * time.Minute
)

// CachedRegistry is a read-through cache in front of another Registry.
// Every mutation goes to the inner registry first and then evicts the name.
//
// The lock keeps a slow Get from caching a value that a concurrent mutation
// has already replaced: readers that fill the cache hold it shared, and
// mutations hold it exclusively.
type CachedRegistry struct {
	inner Registry
	cache *gocache.Cache
	ttl   time.Duration

	mu sync.RWMutex
}

// NewCached wraps inner with a cache whose entries expire after ttl.
// A zero ttl uses DefaultCacheTTL.
func NewCached(inner Registry, ttl time.Duration) *CachedRegistry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedRegistry{
		inner: inner,
		cache: gocache.New(ttl, DefaultCacheCleanupInterval),
		ttl:   ttl,
	}
}

// Get implements Registry.
func (c *CachedRegistry) Get(ctx context.Context, name string) (ir.Entry, bool, error) {
	if v, found := c.cache.Get(name); found {
		if e, ok := v.(ir.Entry); ok {
			slog.Debug("registry cache hit", "name", name)
			return e, true, nil
		}
		slog.Error("wrong type in registry cache", "name", name)
		c.cache.Delete(name)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok, err := c.inner.Get(ctx, name)
	if err != nil || !ok {
		return e, ok, err
	}
	c.cache.Set(name, e, c.ttl)
	return e, true, nil
}

// Put implements Registry.
func (c *CachedRegistry) Put(ctx context.Context, name string, e ir.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.cache.Delete(name)
	return c.inner.Put(ctx, name, e)
}

// Delete implements Registry.
func (c *CachedRegistry) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.cache.Delete(name)
	return c.inner.Delete(ctx, name)
}

// Apply implements Conditional. It is atomic only if the inner registry is.
func (c *CachedRegistry) Apply(ctx context.Context, e ir.Entry, prune bool) (policy.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := Apply(ctx, c.inner, e, prune)
	if d.Mutates() || err != nil {
		c.cache.Delete(e.Name)
	}
	return d, err
}

// List implements Lister by delegating to the inner registry. Listings
// are not cached.
func (c *CachedRegistry) List(ctx context.Context, opts ListOptions) ([]ir.Entry, error) {
	l, ok := c.inner.(Lister)
	if !ok {
		return nil, fmt.Errorf("list: %T cannot enumerate names", c.inner)
	}
	return l.List(ctx, opts)
}

// Flush drops every cached entry.
func (c *CachedRegistry) Flush() {
	c.cache.Flush()
}

// Len returns the number of cached entries, expired or not.
func (c *CachedRegistry) Len() int {
	return c.cache.ItemCount()
}

var (
	_ Registry    = (*CachedRegistry)(nil)
	_ Conditional = (*CachedRegistry)(nil)
	_ Lister      = (*CachedRegistry)(nil)
)
