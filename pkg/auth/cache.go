package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

const (
	// DefaultAuthorizationCacheSize bounds the in-process cache.
	DefaultAuthorizationCacheSize = 1000

	// DefaultAuthorizationCacheTTL is how long an entry lives after it
	// is stored.
	DefaultAuthorizationCacheTTL = 5 * time.Minute

	// DefaultRedisKeyPrefix namespaces authorization entries in redis.
	DefaultRedisKeyPrefix = "realm:authz:"
)

// AuthorizationCache stores [AuthorizationInfo] per principal. Realms
// treat every cache error as a miss and log it; caching never fails an
// authentication or authorization call.
type AuthorizationCache interface {
	Get(ctx context.Context, p Principal) (*AuthorizationInfo, bool, error)
	Put(ctx context.Context, p Principal, info *AuthorizationInfo) error
	Remove(ctx context.Context, p Principal) error
}

func cacheKey(p Principal) string {
	return p.Realm + ":" + p.Name
}

// MemoryAuthorizationCache is a size-bounded, TTL-expiring in-process
// cache. It is safe for concurrent use.
type MemoryAuthorizationCache struct {
	lru *expirable.LRU[string, *AuthorizationInfo]
}

// NewMemoryAuthorizationCache returns a cache holding at most size
// entries, each expiring ttl after it is stored. Non-positive values
// select the defaults.
func NewMemoryAuthorizationCache(size int, ttl time.Duration) *MemoryAuthorizationCache {
	if size <= 0 {
		size = DefaultAuthorizationCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultAuthorizationCacheTTL
	}
	return &MemoryAuthorizationCache{
		lru: expirable.NewLRU[string, *AuthorizationInfo](size, nil, ttl),
	}
}

// Get returns a copy of the cached info for p.
func (c *MemoryAuthorizationCache) Get(_ context.Context, p Principal) (*AuthorizationInfo, bool, error) {
	info, ok := c.lru.Get(cacheKey(p))
	if !ok {
		return nil, false, nil
	}
	return info.Clone(), true, nil
}

// Put stores a copy of info for p.
func (c *MemoryAuthorizationCache) Put(_ context.Context, p Principal, info *AuthorizationInfo) error {
	if info == nil {
		info = &AuthorizationInfo{}
	}
	c.lru.Add(cacheKey(p), info.Clone())
	return nil
}

// Remove drops the entry for p.
func (c *MemoryAuthorizationCache) Remove(_ context.Context, p Principal) error {
	c.lru.Remove(cacheKey(p))
	return nil
}

// Len returns the number of entries, including expired entries not yet
// reclaimed.
func (c *MemoryAuthorizationCache) Len() int {
	return c.lru.Len()
}

// KeyValueStore is the subset of the redis client used by
// [RedisAuthorizationCache]. *redis.Client from pkg/clients/redis
// satisfies it.
type KeyValueStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// RedisAuthorizationCache shares authorization entries between realm
// instances through redis. Entries are stored as JSON with a TTL.
type RedisAuthorizationCache struct {
	store  KeyValueStore
	prefix string
	ttl    time.Duration
}

// NewRedisAuthorizationCache returns a cache backed by store. An empty
// prefix selects [DefaultRedisKeyPrefix]; a non-positive ttl selects
// [DefaultAuthorizationCacheTTL].
func NewRedisAuthorizationCache(store KeyValueStore, prefix string, ttl time.Duration) *RedisAuthorizationCache {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultAuthorizationCacheTTL
	}
	return &RedisAuthorizationCache{store: store, prefix: prefix, ttl: ttl}
}

func (c *RedisAuthorizationCache) key(p Principal) string {
	return c.prefix + cacheKey(p)
}

// Get loads and decodes the entry for p. A corrupt entry is reported as
// an error so the realm logs it and falls back to the provider.
func (c *RedisAuthorizationCache) Get(ctx context.Context, p Principal) (*AuthorizationInfo, bool, error) {
	raw, found, err := c.store.Get(ctx, c.key(p))
	if err != nil || !found {
		return nil, false, err
	}
	var info AuthorizationInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, false, sserr.Wrap(err, sserr.CodeInternal, "auth: corrupt authorization cache entry")
	}
	return &info, true, nil
}

// Put encodes info as JSON and stores it with the cache TTL.
func (c *RedisAuthorizationCache) Put(ctx context.Context, p Principal, info *AuthorizationInfo) error {
	if info == nil {
		info = &AuthorizationInfo{}
	}
	data, err := json.Marshal(info)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "auth: failed to encode authorization info")
	}
	return c.store.Set(ctx, c.key(p), string(data), c.ttl)
}

// Remove deletes the entry for p.
func (c *RedisAuthorizationCache) Remove(ctx context.Context, p Principal) error {
	_, err := c.store.Del(ctx, c.key(p))
	return err
}
