package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	"Trape/internal/repository"
	applogger "Trape/pkg/logger"
	"Trape/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSubmitter(t *testing.T, cfg SubmitterConfig, client *mockOrderClient, store drepo.OrderStore, res *ReservationTable, l *applogger.Logger) *OrderSubmitter {
	t.Helper()
	if cfg.PersistAttempts == 0 {
		cfg.PersistAttempts = 3
	}
	if cfg.TransportAttempts == 0 {
		cfg.TransportAttempts = 3
	}
	cfg.RetryBackoff = time.Millisecond
	s, err := NewOrderSubmitter(cfg, client, store, res, metrics.Nop{}, l,
		WithOrderIDs(sequentialIDs("ord")),
		WithSubmitterClock(func() time.Time { return bufT0 }))
	require.NoError(t, err)
	return s
}

func buyIntent() Intent {
	return Intent{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: decimal.RequireFromString("0.001"), Price: decimal.RequireFromString("100.5")}
}

func marketReq() models.OrderRequest {
	return models.OrderRequest{ClientOrderID: "ord-1", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Quantity: decimal.RequireFromString("0.001")}
}

func TestSubmitMarketOrderFilled(t *testing.T) {
	ctx := context.Background()
	client := &mockOrderClient{}
	client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(r models.OrderRequest) bool {
		return r.ClientOrderID == "ord-1" && r.Type == models.OrderTypeMarket && r.Price.IsZero() && r.TimeInForce == ""
	})).Return(filled(marketReq(), "100"), nil).Once()
	store := repository.NewMemoryOrderStore()
	res := NewReservationTable()

	s := newTestSubmitter(t, SubmitterConfig{}, client, store, res, applogger.Nop())
	placed, err := s.Submit(ctx, buyIntent())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, placed.Status)
	assert.Equal(t, "100", placed.AveragePrice().String())

	assert.Zero(t, res.Len())
	co, err := store.ClientOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, co.Status)
	_, err = store.PlacedOrder(ctx, "ord-1")
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSubmitLimitOrderCarriesPriceAndTimeInForce(t *testing.T) {
	client := &mockOrderClient{}
	client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(r models.OrderRequest) bool {
		return r.Type == models.OrderTypeLimit && r.Price.String() == "100.5" && r.TimeInForce == models.TimeInForceIOC
	})).Return(&models.OrderResponse{Success: true, HTTPStatus: 200, Data: &models.PlacedOrder{Symbol: "BTCUSDT", Status: models.OrderStatusNew}}, nil).Once()
	res := NewReservationTable()

	s := newTestSubmitter(t, SubmitterConfig{OrderType: models.OrderTypeLimit, TimeInForce: models.TimeInForceIOC}, client, repository.NewMemoryOrderStore(), res, applogger.Nop())
	placed, err := s.Submit(context.Background(), buyIntent())
	require.NoError(t, err)
	assert.Equal(t, "ord-1", placed.ClientOrderID)
	// NEW is not terminal, so the reservation waits for reconciliation.
	assert.Len(t, res.ForSymbol("BTCUSDT"), 1)
	client.AssertExpectations(t)
}

func TestSubmitRejectionIsNotRetried(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	client := &mockOrderClient{}
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(&models.OrderResponse{
		HTTPStatus: 400,
		Error:      &models.ExchangeError{Code: -2010, Message: "Account has insufficient balance for requested action.", Payload: `{"symbol":"BTCUSDT"}`},
	}, nil).Once()
	store := repository.NewMemoryOrderStore()
	res := NewReservationTable()

	s := newTestSubmitter(t, SubmitterConfig{}, client, store, res, applogger.NewWithWriter(&buf, "info"))
	_, err := s.Submit(ctx, buyIntent())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindRejected))
	assert.True(t, IsRejected(err))

	var exErr *models.ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, -2010, exErr.Code)
	assert.Contains(t, buf.String(), "insufficient balance")

	assert.Zero(t, res.Len())
	co, err := store.ClientOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, co.Status)
	client.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestSubmitRetriesTransportWithSameID(t *testing.T) {
	client := &mockOrderClient{}
	var ids []string
	client.On("PlaceOrder", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ids = append(ids, args.Get(1).(models.OrderRequest).ClientOrderID)
	}).Return(nil, errors.New("i/o timeout")).Twice()
	client.On("PlaceOrder", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ids = append(ids, args.Get(1).(models.OrderRequest).ClientOrderID)
	}).Return(filled(marketReq(), "100"), nil).Once()

	s := newTestSubmitter(t, SubmitterConfig{}, client, repository.NewMemoryOrderStore(), NewReservationTable(), applogger.Nop())
	_, err := s.Submit(context.Background(), buyIntent())
	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1", "ord-1", "ord-1"}, ids)
}

func TestSubmitTransportExhaustionKeepsReservation(t *testing.T) {
	ctx := context.Background()
	client := &mockOrderClient{}
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	store := repository.NewMemoryOrderStore()
	res := NewReservationTable()

	s := newTestSubmitter(t, SubmitterConfig{}, client, store, res, applogger.Nop())
	_, err := s.Submit(ctx, buyIntent())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindRetryExhausted))
	client.AssertNumberOfCalls(t, "PlaceOrder", 3)

	assert.Len(t, res.ForSymbol("BTCUSDT"), 1)
	pending, err := store.PendingClientOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OrderStatusPending, pending[0].Status)
}

func TestSubmitPersistenceFailsTwiceThenSucceeds(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	client := &mockOrderClient{}
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(filled(marketReq(), "100"), nil).Once()
	store := &flakyOrderStore{MemoryOrderStore: repository.NewMemoryOrderStore(), placedFails: 2}

	s := newTestSubmitter(t, SubmitterConfig{}, client, store, NewReservationTable(), applogger.NewWithWriter(&buf, "info"))
	_, err := s.Submit(ctx, buyIntent())
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(buf.String(), "persist attempt failed"))
	_, err = store.PlacedOrder(ctx, "ord-1")
	assert.NoError(t, err)
}

func TestSubmitPersistenceExhaustedDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	client := &mockOrderClient{}
	client.On("PlaceOrder", mock.Anything, mock.Anything).Return(filled(marketReq(), "100"), nil).Once()
	store := &flakyOrderStore{MemoryOrderStore: repository.NewMemoryOrderStore(), placedFails: 10}
	res := NewReservationTable()

	s := newTestSubmitter(t, SubmitterConfig{}, client, store, res, applogger.Nop())
	placed, err := s.Submit(ctx, buyIntent())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindRetryExhausted))
	require.NotNil(t, placed)
	assert.Equal(t, models.OrderStatusFilled, placed.Status)
	assert.Zero(t, res.Len())
	assert.Equal(t, 3, store.placedCalls)
}

func TestSubmitRejectsInvalidIntent(t *testing.T) {
	client := &mockOrderClient{}
	s := newTestSubmitter(t, SubmitterConfig{}, client, repository.NewMemoryOrderStore(), NewReservationTable(), applogger.Nop())
	_, err := s.Submit(context.Background(), Intent{Symbol: "BTCUSDT", Side: models.OrderSideBuy})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindValidation))
	client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}
