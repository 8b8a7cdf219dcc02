package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	dsvc "Trape/internal/domain/service"
	applogger "Trape/pkg/logger"

	"github.com/shopspring/decimal"
)

type AgentState string

const (
	AgentIdle       AgentState = "idle"
	AgentStarting   AgentState = "starting"
	AgentWaiting    AgentState = "waiting"
	AgentBuying     AgentState = "buying"
	AgentSelling    AgentState = "selling"
	AgentTerminated AgentState = "terminated"
)

type AgentConfig struct {
	Symbol         string
	QuoteAmount    decimal.Decimal
	InboxSize      int
	FaultThreshold int
}

// AgentStatus is a point-in-time view of one agent.
type AgentStatus struct {
	Symbol              string                 `json:"symbol"`
	State               AgentState             `json:"state"`
	Faulty              bool                   `json:"faulty"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	Dropped             int64                  `json:"dropped"`
	OpenOrders          int                    `json:"open_orders"`
	LastBuyPrice        string                 `json:"last_buy_price,omitempty"`
	LastActive          time.Time              `json:"last_active"`
	LastRecommendation  *models.Recommendation `json:"last_recommendation,omitempty"`
}

// AgentDeps groups the collaborators shared by every agent of a team.
type AgentDeps struct {
	Market       dsvc.MarketView
	Accountant   dsvc.Accountant
	Fees         dsvc.FeeWatchdog
	Source       dsvc.RecommendationSource
	Submitter    *OrderSubmitter
	Reconciler   *Reconciler
	Reservations *ReservationTable
	Metrics      drepo.Metrics
	Logger       *applogger.Logger
}

// TradingAgent executes recommendations for a single symbol on its own
// goroutine.
type TradingAgent struct {
	cfg  AgentConfig
	deps AgentDeps
	l    *applogger.Logger
	info models.SymbolInfo

	inbox chan models.Recommendation

	mu       sync.Mutex
	state    AgentState
	failures int
	lastBuy  decimal.Decimal
	lastRec  *models.Recommendation
	cancel   context.CancelFunc
	done     chan struct{}

	faulty     atomic.Bool
	dropped    atomic.Int64
	lastActive atomic.Int64
}

func NewTradingAgent(cfg AgentConfig, deps AgentDeps) (*TradingAgent, error) {
	if cfg.Symbol == "" {
		return nil, models.Errorf(models.KindValidation, "agent.new", "symbol is required")
	}
	if deps.Market == nil || deps.Accountant == nil || deps.Source == nil || deps.Submitter == nil || deps.Reservations == nil {
		return nil, models.Errorf(models.KindValidation, "agent.new", "market, accountant, source, submitter and reservations are required")
	}
	if cfg.QuoteAmount.Sign() <= 0 {
		return nil, models.Errorf(models.KindValidation, "agent.new", "quote amount must be positive")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 16
	}
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = 5
	}
	return &TradingAgent{
		cfg:   cfg,
		deps:  deps,
		l:     deps.Logger.With(applogger.String("component", "agent"), applogger.String("symbol", cfg.Symbol)),
		inbox: make(chan models.Recommendation, cfg.InboxSize),
		state: AgentIdle,
	}, nil
}

func (a *TradingAgent) Name() string { return "agent:" + a.cfg.Symbol }

func (a *TradingAgent) Symbol() string { return a.cfg.Symbol }

func (a *TradingAgent) IsFaulty() bool { return a.faulty.Load() }

func (a *TradingAgent) LastActive() time.Time {
	if ns := a.lastActive.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

func (a *TradingAgent) setState(s AgentState) {
	a.mu.Lock()
	if a.state != AgentTerminated {
		a.state = s
	}
	a.mu.Unlock()
}

// Start checks metadata and balances, restores open reservations and
// registers with the recommendation source.
func (a *TradingAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != AgentIdle {
		a.mu.Unlock()
		return nil
	}
	a.state = AgentStarting
	a.mu.Unlock()

	if err := a.prepare(ctx); err != nil {
		a.setState(AgentIdle)
		return err
	}

	a.mu.Lock()
	if a.state != AgentStarting {
		// Terminated while preparing; drop what the restore reserved.
		a.mu.Unlock()
		a.deps.Reservations.ReleaseSymbol(a.cfg.Symbol)
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	a.state = AgentWaiting
	a.mu.Unlock()

	go a.run(runCtx)
	a.deps.Source.Register(a)
	a.touch()
	a.l.Info("agent started", applogger.Decimal("quote_amount", a.cfg.QuoteAmount))
	return nil
}

func (a *TradingAgent) prepare(ctx context.Context) error {
	info, ok := a.deps.Market.GetSymbolInfoFor(a.cfg.Symbol)
	if !ok {
		return models.NewError(models.KindStartup, "agent.start", models.ErrSymbolNotFound)
	}
	a.info = info
	for _, asset := range []string{info.BaseAsset, info.QuoteAsset} {
		if _, err := a.deps.Accountant.GetBalance(ctx, asset); err != nil {
			return models.Errorf(models.KindStartup, "agent.start", "balance %s: %w", asset, err)
		}
	}
	if a.deps.Reconciler != nil {
		if _, err := a.deps.Reconciler.Reconcile(ctx, a.cfg.Symbol); err != nil {
			return models.NewError(models.KindStartup, "agent.restore", err)
		}
	}
	return nil
}

// Deliver queues rec without blocking. When the inbox is full the oldest
// queued recommendation is discarded.
func (a *TradingAgent) Deliver(rec models.Recommendation) {
	for {
		select {
		case a.inbox <- rec:
			return
		default:
		}
		select {
		case <-a.inbox:
			a.dropped.Add(1)
		default:
		}
	}
}

// Terminate stops the agent and drops its in-memory reservations. Safe to
// call more than once.
func (a *TradingAgent) Terminate() {
	a.mu.Lock()
	if a.state == AgentTerminated {
		a.mu.Unlock()
		return
	}
	prev := a.state
	a.state = AgentTerminated
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	a.deps.Source.Deregister(a)
	if cancel != nil {
		cancel()
		<-done
	}
	n := a.deps.Reservations.ReleaseSymbol(a.cfg.Symbol)
	a.l.Info("agent terminated", applogger.String("from_state", string(prev)), applogger.Int("released", n))
}

func (a *TradingAgent) Status() AgentStatus {
	a.mu.Lock()
	st := AgentStatus{
		Symbol:              a.cfg.Symbol,
		State:               a.state,
		ConsecutiveFailures: a.failures,
		LastRecommendation:  a.lastRec,
	}
	if !a.lastBuy.IsZero() {
		st.LastBuyPrice = a.lastBuy.String()
	}
	a.mu.Unlock()
	st.Faulty = a.IsFaulty()
	st.Dropped = a.dropped.Load()
	st.OpenOrders = len(a.deps.Reservations.ForSymbol(a.cfg.Symbol))
	st.LastActive = a.LastActive()
	return st
}

func (a *TradingAgent) touch() { a.lastActive.Store(time.Now().UnixNano()) }

func (a *TradingAgent) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-a.inbox:
			a.handle(ctx, rec)
		}
	}
}

func (a *TradingAgent) handle(ctx context.Context, rec models.Recommendation) {
	a.touch()
	a.mu.Lock()
	a.lastRec = &rec
	a.mu.Unlock()
	if a.IsFaulty() {
		return
	}

	err := a.execute(ctx, rec)
	if ctx.Err() != nil {
		return
	}
	rejected := err != nil && IsRejected(err)
	a.mu.Lock()
	switch {
	case rejected:
	case err != nil:
		a.failures++
	case rec.Action != models.ActionWait:
		a.failures = 0
	}
	failures := a.failures
	a.mu.Unlock()

	// Business rejections are logged by the submitter and never fault the agent.
	if err != nil && !rejected {
		a.l.Error("order failed", applogger.String("action", string(rec.Action)), applogger.Int("consecutive_failures", failures), applogger.Error(err))
		if failures >= a.cfg.FaultThreshold && !a.faulty.Swap(true) {
			a.deps.Metrics.RecordAgentFault(a.cfg.Symbol)
			a.l.Error("agent faulted, ignoring recommendations", applogger.Int("threshold", a.cfg.FaultThreshold))
		}
	}
}

func (a *TradingAgent) execute(ctx context.Context, rec models.Recommendation) error {
	defer a.setState(AgentWaiting)
	switch rec.Action {
	case models.ActionBuy:
		a.setState(AgentBuying)
		return a.buy(ctx)
	case models.ActionSell:
		a.setState(AgentSelling)
		return a.sell(ctx, rec)
	default:
		return nil
	}
}

func (a *TradingAgent) hasOpenOrder() bool {
	return len(a.deps.Reservations.ForSymbol(a.cfg.Symbol)) > 0
}

func (a *TradingAgent) buy(ctx context.Context) error {
	if a.hasOpenOrder() {
		return nil
	}
	quote, err := a.deps.Accountant.GetBalance(ctx, a.info.QuoteAsset)
	if err != nil {
		return err
	}
	if quote.Free.LessThan(a.cfg.QuoteAmount) {
		a.l.Debug("insufficient quote balance", applogger.Decimal("free", quote.Free))
		return nil
	}
	ask := a.deps.Market.GetAskPrice(a.cfg.Symbol)
	if ask <= 0 {
		return nil
	}
	price := a.info.RoundPrice(decimal.NewFromFloat(ask))
	if price.Sign() <= 0 {
		return nil
	}
	qty := a.info.RoundQuantity(a.cfg.QuoteAmount.Div(price))
	if !a.tradable(qty, price) {
		return nil
	}

	placed, err := a.deps.Submitter.Submit(ctx, Intent{Symbol: a.cfg.Symbol, Side: models.OrderSideBuy, Quantity: qty, Price: price})
	if placed != nil && placed.ExecutedQuantity.Sign() > 0 {
		a.mu.Lock()
		a.lastBuy = placed.AveragePrice()
		a.mu.Unlock()
	}
	a.refreshBalances(ctx)
	return err
}

func (a *TradingAgent) sell(ctx context.Context, rec models.Recommendation) error {
	if a.hasOpenOrder() {
		return nil
	}
	base, err := a.deps.Accountant.GetBalance(ctx, a.info.BaseAsset)
	if err != nil {
		return err
	}
	free := base.Free.Sub(a.deps.Reservations.ReservedQuantity(a.cfg.Symbol, models.OrderSideSell))
	qty := a.info.RoundQuantity(free)
	if qty.LessThan(a.info.MinQty) || qty.Sign() <= 0 {
		return nil
	}
	bid := a.deps.Market.GetBidPrice(a.cfg.Symbol)
	if bid <= 0 {
		return nil
	}
	price := a.info.RoundPrice(decimal.NewFromFloat(bid))
	if !a.tradable(qty, price) {
		return nil
	}
	a.adviseBreakEven(price, rec)

	_, err = a.deps.Submitter.Submit(ctx, Intent{Symbol: a.cfg.Symbol, Side: models.OrderSideSell, Quantity: qty, Price: price})
	a.refreshBalances(ctx)
	return err
}

func (a *TradingAgent) tradable(qty, price decimal.Decimal) bool {
	if qty.Sign() <= 0 || qty.LessThan(a.info.MinQty) {
		a.l.Debug("quantity below minimum", applogger.Decimal("qty", qty))
		return false
	}
	if qty.Mul(price).LessThan(a.info.MinNotional) {
		a.l.Debug("notional below minimum", applogger.Decimal("qty", qty), applogger.Decimal("price", price))
		return false
	}
	return true
}

// adviseBreakEven logs sells that cannot recover the round-trip taker fee.
// The sell still goes ahead.
func (a *TradingAgent) adviseBreakEven(price decimal.Decimal, rec models.Recommendation) {
	a.mu.Lock()
	last := a.lastBuy
	a.mu.Unlock()
	if last.IsZero() || a.deps.Fees == nil {
		return
	}
	fee := a.deps.Fees.GetFee(a.cfg.Symbol)
	breakEven := last.Mul(decimal.NewFromInt(1).Add(fee.Taker.Mul(decimal.NewFromInt(2))))
	if price.LessThan(breakEven) {
		a.l.Warn("sell below break-even",
			applogger.Decimal("price", price),
			applogger.Decimal("break_even", breakEven),
			applogger.Decimal("last_buy", last),
			applogger.Float64("indicator", rec.Indicator))
	}
}

func (a *TradingAgent) refreshBalances(ctx context.Context) {
	if err := a.deps.Accountant.Refresh(ctx); err != nil && ctx.Err() == nil {
		a.l.Warn("balance refresh failed", applogger.Error(err))
	}
}
