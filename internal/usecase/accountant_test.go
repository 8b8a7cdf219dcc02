package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"Trape/internal/domain/models"
	"Trape/pkg/cache"
	applogger "Trape/pkg/logger"
	"Trape/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountant(t *testing.T, client *fakeAccountClient) *Accountant {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	a, err := NewAccountant(AccountantConfig{Interval: time.Hour, BalanceTTL: time.Minute}, client, c, metrics.Nop{}, applogger.Nop())
	require.NoError(t, err)
	return a
}

func TestAccountantServesBalancesFromCache(t *testing.T) {
	ctx := context.Background()
	client := &fakeAccountClient{balances: []models.Balance{balance("USDT", "1000"), balance("BTC", "0.25")}}
	a := newTestAccountant(t, client)

	b, err := a.GetBalance(ctx, "usdt")
	require.NoError(t, err)
	assert.Equal(t, "1000", b.Free.String())
	assert.Equal(t, 1, client.callCount())

	b, err = a.GetBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "0.25", b.Free.String())

	b, err = a.GetBalance(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, b.Free.IsZero())
	assert.Equal(t, "ETH", b.Asset)
	assert.Equal(t, 1, client.callCount())
}

func TestAccountantRefreshDropsSoldAssets(t *testing.T) {
	ctx := context.Background()
	client := &fakeAccountClient{balances: []models.Balance{balance("USDT", "10"), balance("BTC", "1")}}
	a := newTestAccountant(t, client)
	require.NoError(t, a.Refresh(ctx))

	client.set(balance("USDT", "110"))
	require.NoError(t, a.Refresh(ctx))

	b, err := a.GetBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, b.Free.IsZero())
	b, err = a.GetBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, "110", b.Free.String())
	assert.Equal(t, 2, client.callCount())
}

func TestAccountantErrors(t *testing.T) {
	ctx := context.Background()
	client := &fakeAccountClient{err: errors.New("-2015 invalid api key")}
	a := newTestAccountant(t, client)

	_, err := a.GetBalance(ctx, "USDT")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTransient))
	assert.True(t, a.IsFaulty())

	err = a.Start(ctx)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindStartup))
	assert.NoError(t, a.Finish(ctx))

	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()
	require.NoError(t, a.Start(ctx))
	assert.False(t, a.IsFaulty())
	assert.False(t, a.LastActive().IsZero())
	require.NoError(t, a.Finish(ctx))
}
