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
)

type AnalystConfig struct {
	Interval       time.Duration
	PersistTimeout time.Duration
	Policy         Policy
}

type AnalystOption func(*Analyst)

// WithAnalystClock replaces time.Now for recommendation timestamps.
func WithAnalystClock(now func() time.Time) AnalystOption {
	return func(a *Analyst) { a.now = now }
}

// Analyst periodically turns Buffer snapshots into recommendations.
type Analyst struct {
	cfg     AnalystConfig
	market  dsvc.MarketView
	store   drepo.RecommendationStore
	pub     drepo.RecommendationPublisher
	metrics drepo.Metrics
	l       *applogger.Logger
	now     func() time.Time

	sinksMu sync.RWMutex
	sinks   map[string]dsvc.RecommendationSink

	latestMu sync.RWMutex
	latest   map[string]models.Recommendation

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastActive atomic.Int64
}

// NewAnalyst builds an Analyst. store and pub are optional.
func NewAnalyst(cfg AnalystConfig, market dsvc.MarketView, store drepo.RecommendationStore, pub drepo.RecommendationPublisher, metrics drepo.Metrics, l *applogger.Logger, opts ...AnalystOption) (*Analyst, error) {
	if market == nil || metrics == nil || l == nil {
		return nil, models.Errorf(models.KindValidation, "analyst.new", "market view, metrics and logger are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	a := &Analyst{
		cfg:     cfg,
		market:  market,
		store:   store,
		pub:     pub,
		metrics: metrics,
		l:       l.With(applogger.String("component", "analyst")),
		now:     time.Now,
		sinks:   make(map[string]dsvc.RecommendationSink),
		latest:  make(map[string]models.Recommendation),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Analyst) Name() string { return "analyst" }

func (a *Analyst) IsFaulty() bool { return false }

func (a *Analyst) LastActive() time.Time {
	if ns := a.lastActive.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Register routes recommendations for sink.Symbol() to sink, replacing any
// previous sink of that symbol.
func (a *Analyst) Register(sink dsvc.RecommendationSink) {
	a.sinksMu.Lock()
	a.sinks[sink.Symbol()] = sink
	a.sinksMu.Unlock()
}

func (a *Analyst) Deregister(sink dsvc.RecommendationSink) {
	a.sinksMu.Lock()
	if cur, ok := a.sinks[sink.Symbol()]; ok && cur == sink {
		delete(a.sinks, sink.Symbol())
	}
	a.sinksMu.Unlock()
}

// Latest returns the most recent recommendation for symbol.
func (a *Analyst) Latest(symbol string) (models.Recommendation, bool) {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	rec, ok := a.latest[symbol]
	return rec, ok
}

func (a *Analyst) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	a.started = true
	go a.loop(runCtx)
	a.l.Info("analyst started", applogger.Duration("interval", a.cfg.Interval))
	return nil
}

func (a *Analyst) Finish(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	a.cancel()
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.l.Info("analyst finished")
	return nil
}

func (a *Analyst) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Evaluate(ctx)
		}
	}
}

// Evaluate runs one decision pass over every symbol the Buffer knows.
func (a *Analyst) Evaluate(ctx context.Context) {
	start := time.Now()
	for _, symbol := range a.market.GetSymbols() {
		if ctx.Err() != nil {
			return
		}
		snap, ok := a.market.Snapshot(symbol)
		if !ok {
			continue
		}
		a.handle(ctx, a.cfg.Policy.Recommend(snap, a.now()), snap)
	}
	a.lastActive.Store(time.Now().UnixNano())
	a.metrics.RecordLatency("analyst_pass", time.Since(start).Seconds())
}

func (a *Analyst) handle(ctx context.Context, rec models.Recommendation, snap models.SymbolSnapshot) {
	a.latestMu.Lock()
	a.latest[rec.Symbol] = rec
	a.latestMu.Unlock()
	a.metrics.RecordRecommendation(rec.Symbol, rec.Action, rec.Indicator)

	a.sinksMu.RLock()
	sink := a.sinks[rec.Symbol]
	a.sinksMu.RUnlock()
	if sink != nil {
		sink.Deliver(rec)
	}

	if rec.Action != models.ActionWait {
		a.l.Info("recommendation",
			applogger.String("symbol", rec.Symbol),
			applogger.String("decision", rec.DecisionLabel()),
			applogger.Float64("price", rec.Price))
	}

	if a.store != nil {
		pctx, cancel := context.WithTimeout(ctx, a.cfg.PersistTimeout)
		err := a.store.InsertRecommendation(pctx, rec, snap)
		cancel()
		if err != nil {
			a.metrics.RecordError("persist_recommendation")
			a.l.Warn("persist recommendation failed",
				applogger.String("symbol", rec.Symbol),
				applogger.Error(models.NewError(models.KindTransient, "analyst.persist", err)))
		}
	}
	if a.pub != nil {
		if err := a.pub.Publish(ctx, rec); err != nil {
			a.metrics.RecordError("publish_recommendation")
			a.l.Warn("publish recommendation failed", applogger.String("symbol", rec.Symbol), applogger.Error(err))
		}
	}
}
