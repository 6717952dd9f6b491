// Package mapcache implements the Mapping Cache (spec C5): collapsing
// concurrent misses for the same (tenant, virtual table) to exactly one
// TableMapping construction, fronting a bounded, TTL-aware cache so
// construction isn't repeated on every request.
package mapcache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"tablemux/internal/tablemap"
	"tablemux/internal/tenant"
)

// Builder constructs a TableMapping for one tenant's virtual table on a
// cache miss. Failures are never cached (spec §4.5) — only successful
// builds are stored.
type Builder func(ctx context.Context, t tenant.ID, virtualTableName string) (*tablemap.TableMapping, error)

// Cache is the Mapping Cache: single-flight in front of a bounded, TTL-aware
// store.
type Cache struct {
	build  Builder
	group  singleflight.Group
	store  *ristretto.Cache[string, *tablemap.TableMapping]
	ttl    time.Duration
	hits   *counter
	misses *counter
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits   int64
	Misses int64
}

type counter struct{ n atomic.Int64 }

func (c *counter) add(n int64) { c.n.Add(n) }

// Options configures a Cache.
type Options struct {
	// MaxCost bounds the cache's total tracked cost (ristretto's approximate
	// LFU eviction budget). Each entry costs 1.
	MaxCost int64
	// TTL, if non-zero, expires entries after this duration regardless of
	// use.
	TTL time.Duration
}

// New builds a Cache around the given Builder.
func New(build Builder, opts Options) (*Cache, error) {
	maxCost := opts.MaxCost
	if maxCost <= 0 {
		maxCost = 10_000
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, *tablemap.TableMapping]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		build:  build,
		store:  store,
		ttl:    opts.TTL,
		hits:   &counter{},
		misses: &counter{},
	}, nil
}

func cacheKey(t tenant.ID, virtualTableName string) string {
	return string(t) + "\x00" + virtualTableName
}

// Get returns the TableMapping for (t, virtualTableName), building it
// exactly once even under concurrent callers racing on the same miss (spec
// §8 P5).
func (c *Cache) Get(ctx context.Context, t tenant.ID, virtualTableName string) (*tablemap.TableMapping, error) {
	key := cacheKey(t, virtualTableName)

	if tm, ok := c.store.Get(key); ok {
		c.hits.add(1)
		return tm, nil
	}
	c.misses.add(1)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if tm, ok := c.store.Get(key); ok {
			return tm, nil
		}
		tm, err := c.build(ctx, t, virtualTableName)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.store.SetWithTTL(key, tm, 1, c.ttl)
		} else {
			c.store.Set(key, tm, 1)
		}
		c.store.Wait()
		return tm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tablemap.TableMapping), nil
}

// Invalidate evicts the cached mapping for (t, virtualTableName), if any —
// used after a DeleteTable so a subsequent Get does not resurrect a dropped
// virtual table's mapping.
func (c *Cache) Invalidate(t tenant.ID, virtualTableName string) {
	c.store.Del(cacheKey(t, virtualTableName))
}

// Stats reports hit/miss counters since the cache was created.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.n.Load(), Misses: c.misses.n.Load()}
}

// Close releases the underlying store's background goroutines.
func (c *Cache) Close() {
	c.store.Close()
}
