package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"Trape/internal/domain/models"
	applogger "Trape/pkg/logger"

	"github.com/shopspring/decimal"
)

type TeamConfig struct {
	// Symbols limits trading to these symbols; empty allows every symbol.
	Symbols           []string
	QuoteAmount       decimal.Decimal
	InboxSize         int
	FaultThreshold    int
	SpawnInterval     time.Duration
	ReconcileInterval time.Duration
}

// TradingTeam owns one TradingAgent per traded symbol.
type TradingTeam struct {
	cfg     TeamConfig
	deps    AgentDeps
	l       *applogger.Logger
	allowed map[string]struct{}

	agentsMu sync.RWMutex
	agents   map[string]*TradingAgent

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastActive atomic.Int64
}

func NewTradingTeam(cfg TeamConfig, deps AgentDeps) (*TradingTeam, error) {
	if deps.Market == nil || deps.Submitter == nil {
		return nil, models.Errorf(models.KindValidation, "team.new", "market and submitter are required")
	}
	if cfg.SpawnInterval <= 0 {
		cfg.SpawnInterval = 10 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}
	t := &TradingTeam{
		cfg:     cfg,
		deps:    deps,
		l:       deps.Logger.With(applogger.String("component", "trading_team")),
		allowed: make(map[string]struct{}, len(cfg.Symbols)),
		agents:  make(map[string]*TradingAgent),
	}
	for _, s := range cfg.Symbols {
		t.allowed[s] = struct{}{}
	}
	return t, nil
}

func (t *TradingTeam) Name() string { return "trading_team" }

// IsFaulty reports whether any agent is faulted.
func (t *TradingTeam) IsFaulty() bool {
	t.agentsMu.RLock()
	defer t.agentsMu.RUnlock()
	for _, a := range t.agents {
		if a.IsFaulty() {
			return true
		}
	}
	return false
}

func (t *TradingTeam) LastActive() time.Time {
	if ns := t.lastActive.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

func (t *TradingTeam) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	t.started = true
	t.spawn(runCtx)
	go t.loop(runCtx)
	t.l.Info("trading team started", applogger.Strings("symbols", t.cfg.Symbols))
	return nil
}

// Finish stops spawning and terminates every agent concurrently.
func (t *TradingTeam) Finish(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false
	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.agentsMu.Lock()
	agents := make([]*TradingAgent, 0, len(t.agents))
	for _, a := range t.agents {
		agents = append(agents, a)
	}
	t.agents = make(map[string]*TradingAgent)
	t.agentsMu.Unlock()

	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *TradingAgent) {
			defer wg.Done()
			a.Terminate()
		}(a)
	}
	wg.Wait()
	t.l.Info("trading team finished", applogger.Int("agents", len(agents)))
	return nil
}

func (t *TradingTeam) loop(ctx context.Context) {
	defer close(t.done)
	spawn := time.NewTicker(t.cfg.SpawnInterval)
	defer spawn.Stop()
	reconcile := time.NewTicker(t.cfg.ReconcileInterval)
	defer reconcile.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-spawn.C:
			t.spawn(ctx)
		case <-reconcile.C:
			t.reconcile(ctx)
		}
	}
}

func (t *TradingTeam) isAllowed(symbol string) bool {
	if len(t.allowed) == 0 {
		return true
	}
	_, ok := t.allowed[symbol]
	return ok
}

// spawn starts agents for allowed symbols that have data and no agent yet.
// An agent that fails to start is dropped and retried on the next tick.
func (t *TradingTeam) spawn(ctx context.Context) {
	t.lastActive.Store(time.Now().UnixNano())
	for _, symbol := range t.deps.Market.GetSymbols() {
		if !t.isAllowed(symbol) || t.agent(symbol) != nil {
			continue
		}
		a, err := NewTradingAgent(AgentConfig{
			Symbol:         symbol,
			QuoteAmount:    t.cfg.QuoteAmount,
			InboxSize:      t.cfg.InboxSize,
			FaultThreshold: t.cfg.FaultThreshold,
		}, t.deps)
		if err != nil {
			t.l.Error("agent config invalid", applogger.String("symbol", symbol), applogger.Error(err))
			continue
		}
		if err := a.Start(ctx); err != nil {
			t.l.Warn("agent start failed, will retry", applogger.String("symbol", symbol), applogger.Error(err))
			continue
		}
		t.agentsMu.Lock()
		t.agents[symbol] = a
		t.agentsMu.Unlock()
	}
}

func (t *TradingTeam) reconcile(ctx context.Context) {
	if t.deps.Reconciler == nil {
		return
	}
	if _, err := t.deps.Reconciler.Reconcile(ctx, ""); err != nil && ctx.Err() == nil {
		t.l.Warn("scheduled reconcile failed", applogger.Error(err))
	}
}

func (t *TradingTeam) agent(symbol string) *TradingAgent {
	t.agentsMu.RLock()
	defer t.agentsMu.RUnlock()
	return t.agents[symbol]
}

// Statuses lists every agent, faulted ones included, sorted by symbol.
func (t *TradingTeam) Statuses() []AgentStatus {
	t.agentsMu.RLock()
	out := make([]AgentStatus, 0, len(t.agents))
	for _, a := range t.agents {
		out = append(out, a.Status())
	}
	t.agentsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
