package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func TestFailoverCache(t *testing.T) {
	primary := new(mockCache)
	fallback := new(mockCache)
	logger := zerolog.New(io.Discard)
	cache := NewFailoverCache(primary, fallback, time.Minute, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "a").Return([]byte("1"), true, nil).Once()

		got, ok, err := cache.Get(ctx, "a")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), got)
		assert.False(t, cache.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Get", ctx, "b").Return(nil, false, errors.New("connection refused")).Once()
		fallback.On("Get", ctx, "b").Return([]byte("2"), true, nil).Once()

		got, ok, err := cache.Get(ctx, "b")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("2"), got)
		assert.True(t, cache.Degraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		fallback.On("Set", ctx, "c", []byte("3"), time.Minute).Return(nil).Once()
		fallback.On("Delete", ctx, "c").Return(nil).Once()

		assert.NoError(t, cache.Set(ctx, "c", []byte("3"), time.Minute))
		assert.NoError(t, cache.Delete(ctx, "c"))
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "Set", ctx, "c", []byte("3"), time.Minute)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		cache.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("Get", ctx, "d").Return(nil, false, errors.New("still down")).Once()
		fallback.On("Get", ctx, "d").Return(nil, false, nil).Once()

		_, ok, err := cache.Get(ctx, "d")
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, cache.Degraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		cache.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("Get", ctx, "e").Return([]byte("5"), true, nil).Once()

		got, ok, err := cache.Get(ctx, "e")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("5"), got)
		assert.False(t, cache.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("SetFailover", func(t *testing.T) {
		primary.On("Set", ctx, "f", []byte("6"), time.Second).Return(errors.New("fail")).Once()
		fallback.On("Set", ctx, "f", []byte("6"), time.Second).Return(nil).Once()

		assert.NoError(t, cache.Set(ctx, "f", []byte("6"), time.Second))
		assert.True(t, cache.Degraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("DeleteFailover", func(t *testing.T) {
		cache.isDown.Store(false)
		primary.On("Delete", ctx, "g").Return(errors.New("fail")).Once()
		fallback.On("Delete", ctx, "g").Return(nil).Once()

		assert.NoError(t, cache.Delete(ctx, "g"))
		assert.True(t, cache.Degraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}

func TestFailoverCacheWithRealBackends(t *testing.T) {
	s, client := setupMiniredis(t)
	cache := NewFailoverCache(NewRedisCache(client, "p:"), NewMemoryCache(), time.Hour, nil)
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "k", []byte("redis"), time.Minute))
	s.Close()

	_, ok, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, cache.Degraded())

	assert.NoError(t, cache.Set(ctx, "k", []byte("memory"), time.Minute))
	got, ok, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "memory", string(got))
}
