// Package cache shares signed APNs provider tokens between processes through
// Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-apns-client/pkg/apns"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, returning redis.Nil when not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

const keyPrefix = "apns:provider-token:"

// SharedTokenCache implements apns.TokenCache on top of a CacheClient.
type SharedTokenCache struct {
	cache  CacheClient
	logger *slog.Logger
}

var _ apns.TokenCache = (*SharedTokenCache)(nil)

func NewSharedTokenCache(cache CacheClient, logger *slog.Logger) *SharedTokenCache {
	return &SharedTokenCache{
		cache:  cache,
		logger: logger.With("component", "SharedTokenCache"),
	}
}

// Load returns the shared token for key. A missing entry is a miss, not an
// error.
func (s *SharedTokenCache) Load(ctx context.Context, key string) (apns.CachedToken, bool, error) {
	var tok apns.CachedToken
	err := s.cache.Get(ctx, s.cacheKey(key), &tok)
	if errors.Is(err, redis.Nil) {
		return apns.CachedToken{}, false, nil
	}
	if err != nil {
		s.logger.Warn("Failed to load provider token", "key", key, "err", err)
		return apns.CachedToken{}, false, fmt.Errorf("failed to load provider token: %w", err)
	}
	return tok, true, nil
}

func (s *SharedTokenCache) Store(ctx context.Context, key string, tok apns.CachedToken, ttl time.Duration) error {
	if err := s.cache.Set(ctx, s.cacheKey(key), tok, ttl); err != nil {
		s.logger.Warn("Failed to store provider token", "key", key, "err", err)
		return fmt.Errorf("failed to store provider token: %w", err)
	}
	s.logger.Debug("Published provider token", "key", key, "ttl", ttl)
	return nil
}

func (s *SharedTokenCache) Delete(ctx context.Context, key string) error {
	if err := s.cache.Del(ctx, s.cacheKey(key)); err != nil {
		return fmt.Errorf("failed to delete provider token: %w", err)
	}
	return nil
}

func (s *SharedTokenCache) cacheKey(key string) string {
	return keyPrefix + key
}
