package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Trape/internal/domain/models"
	"Trape/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type fakeStream struct {
	mu           sync.Mutex
	ticks        chan *models.Tick
	errs         chan error
	connectErr   error
	subscribeErr error
	connected    bool
	reconnects   int
	closed       int
}

func newFakeStream() *fakeStream {
	return &fakeStream{ticks: make(chan *models.Tick, 64), errs: make(chan error, 4)}
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *fakeStream) Subscribe(context.Context) error { return s.subscribeErr }

func (s *fakeStream) Read(context.Context) (<-chan *models.Tick, <-chan error) {
	return s.ticks, s.errs
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.connected = false
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

var btcInfo = models.SymbolInfo{
	Symbol:      "BTCUSDT",
	BaseAsset:   "BTC",
	QuoteAsset:  "USDT",
	TickSize:    decimal.RequireFromString("0.01"),
	StepSize:    decimal.RequireFromString("0.00001"),
	MinQty:      decimal.RequireFromString("0.00001"),
	MinNotional: decimal.RequireFromString("5"),
}

type fakeExchangeInfo struct {
	mu    sync.Mutex
	infos map[string]models.SymbolInfo
	err   error
	calls int
}

func (f *fakeExchangeInfo) SymbolInfo(_ context.Context, symbols []string) ([]models.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.SymbolInfo, 0, len(symbols))
	for _, s := range symbols {
		if info, ok := f.infos[s]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// staticMarket is a MarketView over fixed snapshots.
type staticMarket struct {
	mu    sync.Mutex
	snaps map[string]models.SymbolSnapshot
	infos map[string]models.SymbolInfo
}

func newStaticMarket() *staticMarket {
	return &staticMarket{snaps: map[string]models.SymbolSnapshot{}, infos: map[string]models.SymbolInfo{}}
}

func (m *staticMarket) set(s models.SymbolSnapshot) {
	m.mu.Lock()
	m.snaps[s.Symbol] = s
	m.mu.Unlock()
}

func (m *staticMarket) Snapshot(symbol string) (models.SymbolSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[symbol]
	return s, ok
}

func (m *staticMarket) GetSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.snaps))
	for s := range m.snaps {
		out = append(out, s)
	}
	return out
}

func (m *staticMarket) GetAskPrice(symbol string) float64 {
	s, _ := m.Snapshot(symbol)
	return s.Price.Ask
}

func (m *staticMarket) GetBidPrice(symbol string) float64 {
	s, _ := m.Snapshot(symbol)
	return s.Price.Bid
}

func (m *staticMarket) GetSymbolInfoFor(symbol string) (models.SymbolInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.infos[symbol]
	return info, ok
}

type flakyRecommendationStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inserted []models.Recommendation
}

func (s *flakyRecommendationStore) InsertRecommendation(_ context.Context, rec models.Recommendation, _ models.SymbolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection reset")
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

type capturePublisher struct {
	mu   sync.Mutex
	recs []models.Recommendation
}

func (p *capturePublisher) Publish(_ context.Context, rec models.Recommendation) error {
	p.mu.Lock()
	p.recs = append(p.recs, rec)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type captureSink struct {
	symbol string
	mu     sync.Mutex
	recs   []models.Recommendation
}

func (s *captureSink) Symbol() string { return s.symbol }

func (s *captureSink) Deliver(rec models.Recommendation) {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
}

func (s *captureSink) received() []models.Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Recommendation(nil), s.recs...)
}

// validWindows builds a snapshot where every window passes its threshold and
// every sub-interval implies the same percent change.
func validWindows(symbol string, at time.Time, ma, slopePerSec float64) [5]models.StatsWindow {
	var out [5]models.StatsWindow
	for i, res := range models.Resolutions {
		w := models.StatsWindow{
			Symbol:     symbol,
			Resolution: res,
			DataBasis:  res.ValidityThreshold() + 1,
			Newest:     at,
		}
		for j := range w.Slopes {
			w.Slopes[j] = slopePerSec
			w.MovingAverages[j] = ma
		}
		out[i] = w
	}
	return out
}

type mockOrderClient struct {
	mock.Mock
}

func (m *mockOrderClient) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*models.OrderResponse)
	return resp, args.Error(1)
}

func (m *mockOrderClient) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*models.PlacedOrder, error) {
	args := m.Called(ctx, symbol, clientOrderID)
	po, _ := args.Get(0).(*models.PlacedOrder)
	return po, args.Error(1)
}

// flakyOrderStore fails the first n placed-order upserts.
type flakyOrderStore struct {
	*repository.MemoryOrderStore
	mu          sync.Mutex
	placedFails int
	placedCalls int
}

func (s *flakyOrderStore) UpsertPlacedOrder(ctx context.Context, o models.PlacedOrder) error {
	s.mu.Lock()
	s.placedCalls++
	fail := s.placedCalls <= s.placedFails
	s.mu.Unlock()
	if fail {
		return errors.New("deadlock detected")
	}
	return s.MemoryOrderStore.UpsertPlacedOrder(ctx, o)
}

func filled(req models.OrderRequest, price string) *models.OrderResponse {
	p := decimal.RequireFromString(price)
	return &models.OrderResponse{
		Success:    true,
		HTTPStatus: 200,
		Data: &models.PlacedOrder{
			ClientOrderID:           req.ClientOrderID,
			OrderID:                 42,
			OrderListID:             -1,
			Symbol:                  req.Symbol,
			Side:                    req.Side,
			Type:                    req.Type,
			TimeInForce:             req.TimeInForce,
			Status:                  models.OrderStatusFilled,
			Price:                   req.Price,
			OriginalQuantity:        req.Quantity,
			ExecutedQuantity:        req.Quantity,
			CumulativeQuoteQuantity: req.Quantity.Mul(p),
		},
	}
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type fakeAccountClient struct {
	mu       sync.Mutex
	balances []models.Balance
	err      error
	calls    int
}

func (f *fakeAccountClient) Balances(context.Context) ([]models.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Balance(nil), f.balances...), nil
}

func (f *fakeAccountClient) set(b ...models.Balance) {
	f.mu.Lock()
	f.balances = b
	f.mu.Unlock()
}

func (f *fakeAccountClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func balance(asset, free string) models.Balance {
	return models.Balance{Asset: asset, Free: decimal.RequireFromString(free), Locked: decimal.Zero}
}

type fakeFeeClient struct {
	fees []models.Fee
	err  error
}

func (f *fakeFeeClient) TradeFees(_ context.Context, symbols []string) ([]models.Fee, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fees, nil
}

type fakeComponent struct {
	name     string
	log      *[]string
	mu       *sync.Mutex
	startErr error
	faulty   bool
}

func (c *fakeComponent) record(s string) {
	c.mu.Lock()
	*c.log = append(*c.log, s)
	c.mu.Unlock()
}

func (c *fakeComponent) Name() string { return c.name }

func (c *fakeComponent) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.record("start " + c.name)
	return nil
}

func (c *fakeComponent) Finish(context.Context) error {
	c.record("finish " + c.name)
	return nil
}

func (c *fakeComponent) IsFaulty() bool { return c.faulty }

func (c *fakeComponent) LastActive() time.Time { return time.Time{} }
