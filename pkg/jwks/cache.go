package jwks

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheSize is the maximum number of cached signing keys.
	DefaultCacheSize = 15

	// DefaultCacheTTL is how long a key stays cached after insertion.
	DefaultCacheTTL = 15 * time.Minute
)

// Loader fetches the signing key for a key ID on a cache miss.
type Loader func(ctx context.Context, keyID string) (SigningKey, error)

// Cache maps key IDs to signing keys. It is bounded in size with
// least-recently-used eviction, and entries expire a fixed time after
// insertion regardless of access. Concurrent misses for the same key ID
// share a single loader call. Loader failures are returned to every
// waiting caller and are not cached.
//
// Cache is safe for concurrent use.
type Cache struct {
	lru   *expirable.LRU[string, SigningKey]
	group singleflight.Group
}

// NewCache creates a cache. Non-positive arguments select the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, SigningKey](size, nil, ttl)}
}

// Get returns the cached key for keyID, calling load at most once per
// concurrently requested key ID on a miss. The shared load runs detached
// from any single caller's cancellation; a caller whose ctx ends stops
// waiting and gets ctx.Err() while the load continues for the others.
func (c *Cache) Get(ctx context.Context, keyID string, load Loader) (SigningKey, error) {
	if key, ok := c.lru.Get(keyID); ok {
		return key, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(keyID, func() (any, error) {
		// A flight that finished between our miss and DoChan already stored it.
		if key, ok := c.lru.Peek(keyID); ok {
			return key, nil
		}
		key, err := load(loadCtx, keyID)
		if err != nil {
			return SigningKey{}, err
		}
		c.lru.Add(keyID, key)
		return key, nil
	})

	select {
	case <-ctx.Done():
		return SigningKey{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return SigningKey{}, res.Err
		}
		return res.Val.(SigningKey), nil
	}
}

// Len returns the number of entries, including expired ones that have not
// been reaped yet.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge drops every entry.
func (c *Cache) Purge() { c.lru.Purge() }
