package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRedisClient struct {
	mock.Mock
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockRedisClient) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func setup(t *testing.T) (*RedisPresenceCache, *mockRedisClient) {
	t.Helper()
	client := new(mockRedisClient)
	cache, err := NewRedisPresenceCache(client, "instance-1", time.Minute, zerolog.Nop())
	require.NoError(t, err)
	return cache, client
}

func TestRedisPresenceCache_Set(t *testing.T) {
	cache, client := setup(t)

	client.On("Set", mock.Anything, "presence:user:7", "instance-1", time.Minute).
		Return(redis.NewStatusResult("OK", nil)).Once()

	require.NoError(t, cache.Set(context.Background(), "7"))
	client.AssertExpectations(t)
}

func TestRedisPresenceCache_Delete(t *testing.T) {
	cache, client := setup(t)

	client.On("Del", mock.Anything, []string{"presence:user:7"}).
		Return(redis.NewIntResult(1, nil)).Once()

	require.NoError(t, cache.Delete(context.Background(), "7"))
	client.AssertExpectations(t)
}

func TestRedisPresenceCache_IsOnline(t *testing.T) {
	cache, client := setup(t)

	client.On("Exists", mock.Anything, []string{"presence:user:7"}).
		Return(redis.NewIntResult(1, nil)).Once()
	client.On("Exists", mock.Anything, []string{"presence:user:9"}).
		Return(redis.NewIntResult(0, nil)).Once()

	online, err := cache.IsOnline(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, online)

	online, err = cache.IsOnline(context.Background(), "9")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestRedisPresenceCache_ErrorsAreWrapped(t *testing.T) {
	cache, client := setup(t)

	redisErr := errors.New("connection refused")
	client.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(redis.NewStatusResult("", redisErr)).Once()

	err := cache.Set(context.Background(), "7")
	assert.ErrorIs(t, err, redisErr)
}

func TestNewRedisPresenceCache_Validation(t *testing.T) {
	_, err := NewRedisPresenceCache(nil, "i", time.Minute, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewRedisPresenceCache(new(mockRedisClient), "i", 0, zerolog.Nop())
	assert.Error(t, err)
}
