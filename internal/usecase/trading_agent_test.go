package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"Trape/internal/domain/models"
	"Trape/internal/repository"
	"Trape/pkg/cache"
	applogger "Trape/pkg/logger"
	"Trape/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type agentRig struct {
	market   *staticMarket
	account  *fakeAccountClient
	client   *mockOrderClient
	store    *repository.MemoryOrderStore
	res      *ReservationTable
	analyst  *Analyst
	deps     AgentDeps
	logs     *syncBuffer
	memCache *cache.MemoryCache
}

func newAgentRig(t *testing.T) *agentRig {
	t.Helper()
	r := &agentRig{
		market:   newStaticMarket(),
		account:  &fakeAccountClient{balances: []models.Balance{balance("USDT", "1000"), balance("BTC", "0")}},
		client:   &mockOrderClient{},
		store:    repository.NewMemoryOrderStore(),
		res:      NewReservationTable(),
		logs:     &syncBuffer{},
		memCache: cache.NewMemoryCache(),
	}
	t.Cleanup(func() { _ = r.memCache.Close() })
	r.market.infos["BTCUSDT"] = btcInfo
	r.market.set(snapshotWith(0.001))

	l := applogger.NewWithWriter(r.logs, "debug")
	acc, err := NewAccountant(AccountantConfig{BalanceTTL: time.Minute}, r.account, r.memCache, metrics.Nop{}, l)
	require.NoError(t, err)
	sub, err := NewOrderSubmitter(SubmitterConfig{PersistAttempts: 3, TransportAttempts: 1, RetryBackoff: time.Millisecond},
		r.client, r.store, r.res, metrics.Nop{}, l, WithOrderIDs(sequentialIDs("ord")))
	require.NoError(t, err)
	rec, err := NewReconciler(ReconcilerConfig{}, r.client, r.store, r.res, metrics.Nop{}, l)
	require.NoError(t, err)
	fees, err := NewFeeWatchdog(FeeWatchdogConfig{DefaultMaker: decimal.RequireFromString("0.001"), DefaultTaker: decimal.RequireFromString("0.001")},
		&fakeFeeClient{}, metrics.Nop{}, l)
	require.NoError(t, err)
	r.analyst = newTestAnalyst(t, r.market, nil, nil, l)

	r.deps = AgentDeps{
		Market:       r.market,
		Accountant:   acc,
		Fees:         fees,
		Source:       r.analyst,
		Submitter:    sub,
		Reconciler:   rec,
		Reservations: r.res,
		Metrics:      metrics.Nop{},
		Logger:       l,
	}
	return r
}

func (r *agentRig) agent(t *testing.T, threshold int) *TradingAgent {
	t.Helper()
	a, err := NewTradingAgent(AgentConfig{Symbol: "BTCUSDT", QuoteAmount: decimal.NewFromInt(50), InboxSize: 8, FaultThreshold: threshold}, r.deps)
	require.NoError(t, err)
	return a
}

func filledBuy() *models.OrderResponse {
	return &models.OrderResponse{Success: true, HTTPStatus: 200, Data: &models.PlacedOrder{
		ClientOrderID:           "ord-1",
		OrderID:                 1001,
		Symbol:                  "BTCUSDT",
		Side:                    models.OrderSideBuy,
		Type:                    models.OrderTypeMarket,
		Status:                  models.OrderStatusFilled,
		OriginalQuantity:        decimal.RequireFromString("0.4995"),
		ExecutedQuantity:        decimal.RequireFromString("0.4995"),
		CumulativeQuoteQuantity: decimal.RequireFromString("49.99995"),
	}}
}

func TestAgentStartFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *agentRig)
	}{
		{name: "missing symbol info", setup: func(r *agentRig) { delete(r.market.infos, "BTCUSDT") }},
		{name: "balances unavailable", setup: func(r *agentRig) { r.account.err = errors.New("401 invalid api key") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAgentRig(t)
			tt.setup(r)
			a := r.agent(t, 3)
			err := a.Start(context.Background())
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindStartup))
			assert.Equal(t, AgentIdle, a.Status().State)
		})
	}
}

func TestRisingMarketBuysOnceAndReleases(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	r.client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req models.OrderRequest) bool {
		return req.Side == models.OrderSideBuy && req.Quantity.String() == "0.4995"
	})).Return(filledBuy(), nil).Once()

	a := r.agent(t, 3)
	require.NoError(t, a.Start(ctx))
	defer a.Terminate()
	assert.Equal(t, AgentWaiting, a.Status().State)

	r.analyst.Evaluate(ctx)
	latest, ok := r.analyst.Latest("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, models.ActionBuy, latest.Action)
	assert.Greater(t, latest.Indicator, 0.0)

	require.Eventually(t, func() bool {
		co, err := r.store.ClientOrder(ctx, "ord-1")
		return err == nil && co.Status == models.OrderStatusFilled
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.Status().State == AgentWaiting }, time.Second, 5*time.Millisecond)

	assert.Zero(t, r.res.Len())
	clients, placed := r.store.Len()
	assert.Equal(t, 1, clients)
	assert.Equal(t, 1, placed)
	assert.Equal(t, "100.1", a.Status().LastBuyPrice)
	r.client.AssertExpectations(t)
}

func TestAgentSkipsBuyWithOpenReservation(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	a := r.agent(t, 3)
	require.NoError(t, a.Start(ctx))
	defer a.Terminate()
	require.NoError(t, r.res.Reserve(models.OpenOrder{OrderID: "x", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: decimal.NewFromInt(1)}))

	require.NoError(t, a.execute(ctx, models.Recommendation{Symbol: "BTCUSDT", Action: models.ActionBuy, Indicator: 3}))
	r.client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestAgentSellBelowBreakEvenIsAdvisedAndExecuted(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	r.account.set(balance("USDT", "0"), balance("BTC", "0.5"))
	r.client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req models.OrderRequest) bool {
		return req.Side == models.OrderSideSell && req.Quantity.String() == "0.5"
	})).Return(&models.OrderResponse{Success: true, HTTPStatus: 200, Data: &models.PlacedOrder{Symbol: "BTCUSDT", Status: models.OrderStatusFilled}}, nil).Once()

	a := r.agent(t, 3)
	require.NoError(t, a.Start(ctx))
	defer a.Terminate()
	a.mu.Lock()
	a.lastBuy = decimal.NewFromInt(100)
	a.mu.Unlock()

	require.NoError(t, a.execute(ctx, models.Recommendation{Symbol: "BTCUSDT", Action: models.ActionSell, Indicator: -2}))
	assert.Contains(t, r.logs.String(), "sell below break-even")
	r.client.AssertExpectations(t)
}

func TestAgentFaultsAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	failing := &flakyOrderStore{MemoryOrderStore: r.store, placedFails: 100}
	sub, err := NewOrderSubmitter(SubmitterConfig{PersistAttempts: 2, TransportAttempts: 1, RetryBackoff: time.Millisecond},
		r.client, failing, r.res, metrics.Nop{}, r.deps.Logger, WithOrderIDs(sequentialIDs("ord")))
	require.NoError(t, err)
	r.deps.Submitter = sub
	r.client.On("PlaceOrder", mock.Anything, mock.Anything).Return(filledBuy(), nil)

	a := r.agent(t, 2)
	require.NoError(t, a.Start(ctx))
	defer a.Terminate()

	buy := models.Recommendation{Symbol: "BTCUSDT", Action: models.ActionBuy, Indicator: 3}
	for i := 0; i < 3; i++ {
		a.Deliver(buy)
	}
	require.Eventually(t, a.IsFaulty, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st := a.Status()
		return st.LastRecommendation != nil && len(a.inbox) == 0 && st.State == AgentWaiting
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	r.client.AssertNumberOfCalls(t, "PlaceOrder", 2)
	st := a.Status()
	assert.True(t, st.Faulty)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, 2, strings.Count(r.logs.String(), `"placed order not persisted"`))
}

func TestAgentRejectionsDoNotFault(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	r.client.On("PlaceOrder", mock.Anything, mock.Anything).Return(&models.OrderResponse{
		HTTPStatus: 400, Error: &models.ExchangeError{Code: -1013, Message: "Filter failure: LOT_SIZE"},
	}, nil)

	a := r.agent(t, 2)
	require.NoError(t, a.Start(ctx))
	defer a.Terminate()

	buy := models.Recommendation{Symbol: "BTCUSDT", Action: models.ActionBuy, Indicator: 3}
	for i := 0; i < 3; i++ {
		a.Deliver(buy)
	}
	require.Eventually(t, func() bool {
		return strings.Count(r.logs.String(), `"order rejected"`) == 3
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.Status().State == AgentWaiting }, time.Second, 5*time.Millisecond)

	st := a.Status()
	assert.False(t, st.Faulty)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Zero(t, st.OpenOrders)
	r.client.AssertNumberOfCalls(t, "PlaceOrder", 3)
}

func TestAgentInboxDropsOldest(t *testing.T) {
	r := newAgentRig(t)
	a, err := NewTradingAgent(AgentConfig{Symbol: "BTCUSDT", QuoteAmount: decimal.NewFromInt(50), InboxSize: 2}, r.deps)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		a.Deliver(models.Recommendation{Symbol: "BTCUSDT", Action: models.ActionWait, Indicator: float64(i)})
	}
	assert.Equal(t, int64(3), a.Status().Dropped)
	assert.Equal(t, 4.0, (<-a.inbox).Indicator)
	assert.Equal(t, 5.0, (<-a.inbox).Indicator)
}

func TestAgentTerminateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	a := r.agent(t, 3)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, r.res.Reserve(models.OpenOrder{OrderID: "x", Symbol: "BTCUSDT"}))

	a.Terminate()
	a.Terminate()
	assert.Equal(t, AgentTerminated, a.Status().State)
	assert.Zero(t, r.res.Len())

	r.analyst.sinksMu.RLock()
	_, registered := r.analyst.sinks["BTCUSDT"]
	r.analyst.sinksMu.RUnlock()
	assert.False(t, registered)
}

func TestAgentStartRestoresPendingReservations(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	require.NoError(t, r.store.UpsertClientOrder(ctx, models.ClientOrder{
		ID: "pending-1", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: decimal.RequireFromString("0.1"),
		Status: models.OrderStatusPending, CreatedAt: time.Now(),
	}))
	r.client.On("QueryOrder", mock.Anything, "BTCUSDT", "pending-1").Return(&models.PlacedOrder{Symbol: "BTCUSDT", Status: models.OrderStatusNew}, nil)

	a := r.agent(t, 3)
	require.NoError(t, a.Start(ctx))
	defer a.Terminate()
	assert.Equal(t, 1, a.Status().OpenOrders)
}

func TestAgentTerminatedWhileStartingStaysDown(t *testing.T) {
	ctx := context.Background()
	r := newAgentRig(t)
	require.NoError(t, r.store.UpsertClientOrder(ctx, models.ClientOrder{
		ID: "pending-1", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: decimal.RequireFromString("0.1"),
		Status: models.OrderStatusPending, CreatedAt: time.Now(),
	}))
	querying := make(chan struct{})
	release := make(chan struct{})
	r.client.On("QueryOrder", mock.Anything, "BTCUSDT", "pending-1").
		Run(func(mock.Arguments) {
			close(querying)
			<-release
		}).
		Return(&models.PlacedOrder{Symbol: "BTCUSDT", Status: models.OrderStatusNew}, nil).Once()

	a := r.agent(t, 3)
	started := make(chan error, 1)
	go func() { started <- a.Start(ctx) }()

	<-querying
	a.Terminate()
	close(release)
	require.NoError(t, <-started)

	st := a.Status()
	assert.Equal(t, AgentTerminated, st.State)
	assert.Zero(t, st.OpenOrders)
	r.analyst.sinksMu.RLock()
	_, registered := r.analyst.sinks["BTCUSDT"]
	r.analyst.sinksMu.RUnlock()
	assert.False(t, registered)

	a.mu.Lock()
	assert.Nil(t, a.cancel)
	a.mu.Unlock()
}
