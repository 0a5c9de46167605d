// Package cache adds a Redis read-aside layer in front of the user profile
// reads, which dominate the pipeline's Firestore traffic (one read per
// recipient per event).
package cache

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-fanout-service/pkg/store"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error when the key is absent.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedUserReader is a decorator that adds read-aside caching to a
// store.UserReader and keeps the cache honest by invalidating entries for
// users whose tokens the scrubber clears. It implements both store.UserReader
// and store.TokenScrubber so the pipeline can be wired against it alone.
type CachedUserReader struct {
	users    store.UserReader
	scrubber store.TokenScrubber
	cache    CacheClient
	ttl      time.Duration
}

func NewCachedUserReader(users store.UserReader, scrubber store.TokenScrubber, cache CacheClient, ttl time.Duration) *CachedUserReader {
	return &CachedUserReader{
		users:    users,
		scrubber: scrubber,
		cache:    cache,
		ttl:      ttl,
	}
}

// GetUser serves from cache when possible. Misses and absent users both fall
// through to the real store; absent users are not negatively cached, so a
// profile created moments later is seen immediately.
func (c *CachedUserReader) GetUser(ctx context.Context, id string) (*store.User, error) {
	key := cacheKey(id)

	var cached store.User
	if err := c.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	u, err := c.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache fill is an optimization, not a transaction. If Redis is down we
	// just keep serving from the store.
	_ = c.cache.Set(ctx, key, u, c.ttl)

	return u, nil
}

// ClearPushToken clears the token in the real store, then drops the cache
// entry for every affected user so a stale token cannot be redelivered to
// within the TTL window.
func (c *CachedUserReader) ClearPushToken(ctx context.Context, token string) ([]string, error) {
	cleared, err := c.scrubber.ClearPushToken(ctx, token)
	c.invalidate(ctx, cleared)
	return cleared, err
}

func (c *CachedUserReader) ClearWebSubscription(ctx context.Context, endpoint string) ([]string, error) {
	cleared, err := c.scrubber.ClearWebSubscription(ctx, endpoint)
	c.invalidate(ctx, cleared)
	return cleared, err
}

func (c *CachedUserReader) invalidate(ctx context.Context, userIDs []string) {
	for _, id := range userIDs {
		_ = c.cache.Del(ctx, cacheKey(id))
	}
}

func cacheKey(userID string) string {
	return "fanout:user:" + userID
}
