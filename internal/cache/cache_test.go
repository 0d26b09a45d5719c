package cache

import (
	"context"
	"testing"
	"time"

	"crypto-live-dashboard/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryCache(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	t.Run("basic operations", func(t *testing.T) {
		require.NoError(t, mc.Set(ctx, "symbols", []string{"BTCUSDT", "ETHUSDT"}, time.Minute))

		var got []string
		require.NoError(t, mc.Get(ctx, "symbols", &got))
		assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got)
	})

	t.Run("miss", func(t *testing.T) {
		var got []string
		assert.ErrorIs(t, mc.Get(ctx, "absent", &got), ErrCacheMiss)
	})

	t.Run("expiration", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		mc.now = func() time.Time { return now }
		require.NoError(t, mc.Set(ctx, "expire_key", []string{"A"}, time.Hour))

		var got []string
		require.NoError(t, mc.Get(ctx, "expire_key", &got))

		now = now.Add(time.Hour + time.Second)
		assert.ErrorIs(t, mc.Get(ctx, "expire_key", &got), ErrCacheMiss)
	})

	t.Run("type mismatch", func(t *testing.T) {
		require.NoError(t, mc.Set(ctx, "number", 42, 0))
		var got []string
		err := mc.Get(ctx, "number", &got)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheMiss)
	})
}

func TestNewWithoutRedis(t *testing.T) {
	c := New(service.RedisConfig{Enabled: false}, zaptest.NewLogger(t))
	_, ok := c.(*MemoryCache)
	assert.True(t, ok)
}

func TestNewFallsBackWhenRedisUnreachable(t *testing.T) {
	c := New(service.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"}, zaptest.NewLogger(t))
	_, ok := c.(*MemoryCache)
	assert.True(t, ok)
	require.NoError(t, c.Close())
}
