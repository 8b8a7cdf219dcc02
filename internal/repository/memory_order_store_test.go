package repository

import (
	"context"
	"testing"
	"time"

	"Trape/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOrderStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOrderStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	co := models.ClientOrder{ID: "c1", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: decimal.RequireFromString("0.001"), Status: models.OrderStatusPending, CreatedAt: now}

	require.NoError(t, s.UpsertClientOrder(ctx, co))
	require.NoError(t, s.UpsertClientOrder(ctx, co))
	po := models.PlacedOrder{ClientOrderID: "c1", OrderID: 7, Symbol: "BTCUSDT", Status: models.OrderStatusNew}
	require.NoError(t, s.UpsertPlacedOrder(ctx, po))
	require.NoError(t, s.UpsertPlacedOrder(ctx, po))

	clients, placed := s.Len()
	assert.Equal(t, 1, clients)
	assert.Equal(t, 1, placed)

	co.Status = models.OrderStatusFilled
	co.CreatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpsertClientOrder(ctx, co))
	got, err := s.ClientOrder(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.Equal(t, now, got.CreatedAt)
}

func TestMemoryOrderStorePending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOrderStore()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, o := range []models.ClientOrder{
		{ID: "a", Symbol: "BTCUSDT", Status: models.OrderStatusPending},
		{ID: "b", Symbol: "BTCUSDT", Status: models.OrderStatusFilled},
		{ID: "c", Symbol: "ETHUSDT", Status: models.OrderStatusNew},
	} {
		o.CreatedAt = t0.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.UpsertClientOrder(ctx, o))
	}

	all, err := s.PendingClientOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	btc, err := s.PendingClientOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, btc, 1)

	_, err = s.PlacedOrder(ctx, "a")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	_, err = s.ClientOrder(ctx, "zzz")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
