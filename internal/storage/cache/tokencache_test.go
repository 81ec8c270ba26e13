package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-client/internal/storage/cache"
	"github.com/tinywideclouds/go-apns-client/pkg/apns"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestSharedTokenCache(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cacheKey := "apns:provider-token:TEAM:KEY"
	issuedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Load - hit decodes the token", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, cacheKey, mock.AnythingOfType("*apns.CachedToken")).
			Run(func(args mock.Arguments) {
				dest := args.Get(2).(*apns.CachedToken)
				*dest = apns.CachedToken{Token: "signed", IssuedAt: issuedAt}
			}).
			Return(nil)
		store := cache.NewSharedTokenCache(mockCache, logger)

		tok, ok, err := store.Load(ctx, "TEAM:KEY")

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "signed", tok.Token)
		assert.Equal(t, issuedAt, tok.IssuedAt)
		mockCache.AssertExpectations(t)
	})

	t.Run("Load - redis.Nil is a miss", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(redis.Nil)
		store := cache.NewSharedTokenCache(mockCache, logger)

		_, ok, err := store.Load(ctx, "TEAM:KEY")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Load - backend failure is reported", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(errors.New("i/o timeout"))
		store := cache.NewSharedTokenCache(mockCache, logger)

		_, ok, err := store.Load(ctx, "TEAM:KEY")

		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("Store - writes with the given TTL", func(t *testing.T) {
		mockCache := new(MockCache)
		tok := apns.CachedToken{Token: "signed", IssuedAt: issuedAt}
		mockCache.On("Set", ctx, cacheKey, tok, apns.TokenLifetime).Return(nil)
		store := cache.NewSharedTokenCache(mockCache, logger)

		require.NoError(t, store.Store(ctx, "TEAM:KEY", tok, apns.TokenLifetime))
		mockCache.AssertExpectations(t)
	})

	t.Run("Delete - removes the shared entry", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Del", ctx, cacheKey).Return(nil)
		store := cache.NewSharedTokenCache(mockCache, logger)

		require.NoError(t, store.Delete(ctx, "TEAM:KEY"))
		mockCache.AssertExpectations(t)
	})

	t.Run("Delete - failure is wrapped", func(t *testing.T) {
		mockCache := new(MockCache)
		cause := errors.New("connection reset")
		mockCache.On("Del", ctx, cacheKey).Return(cause)
		store := cache.NewSharedTokenCache(mockCache, logger)

		assert.ErrorIs(t, store.Delete(ctx, "TEAM:KEY"), cause)
	})
}
