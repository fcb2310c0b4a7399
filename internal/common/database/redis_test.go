package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisFromClient(rdb)
}

func TestRedisClient_Claim(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	first, err := client.Claim(ctx, "verification:callback:ext-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := client.Claim(ctx, "verification:callback:ext-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	mr.FastForward(2 * time.Minute)
	again, err := client.Claim(ctx, "verification:callback:ext-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisClient_JSONRoundTrip(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	type cached struct {
		Role string `json:"role"`
	}

	var out cached
	found, err := client.GetJSON(ctx, "actor:1", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.SetJSON(ctx, "actor:1", cached{Role: "landlord"}, time.Minute))
	found, err = client.GetJSON(ctx, "actor:1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "landlord", out.Role)
}
