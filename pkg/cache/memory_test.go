package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type balance struct {
	Asset string `json:"asset"`
	Free  string `json:"free"`
}

func TestMemoryCacheRoundTripsStructs(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, GenerateKey("balance", "usdt"), balance{Asset: "USDT", Free: "120.5"}, time.Minute))

	got, err := GetTyped[balance](ctx, mc, "balance:USDT")
	require.NoError(t, err)
	assert.Equal(t, balance{Asset: "USDT", Free: "120.5"}, got)

	var missing balance
	assert.ErrorIs(t, mc.Get(ctx, "balance:BTC", &missing), ErrCacheMiss)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", 1, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "balance:BTC", 1, 0))
	require.NoError(t, mc.Set(ctx, "balance:USDT", 2, 0))
	require.NoError(t, mc.Set(ctx, "symbolinfo:BTCUSDT", 3, 0))

	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern("balance")))

	ok, _ := mc.Exists(ctx, "balance:BTC", "balance:USDT")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "symbolinfo:BTCUSDT")
	assert.True(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	time.Sleep(time.Millisecond)
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
	assert.NoError(t, mc.Get(ctx, "c", &v))
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "reconcile"))
	ok, _ = mc.TryLock(ctx, "reconcile", time.Minute)
	assert.True(t, ok)
}
