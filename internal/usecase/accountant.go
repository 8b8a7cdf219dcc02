package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	"Trape/pkg/cache"
	applogger "Trape/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	balanceKey      = "balance"
	balanceSnapshot = "_snapshot"
)

type AccountantConfig struct {
	Interval   time.Duration
	BalanceTTL time.Duration
}

// Accountant keeps exchange balances in the shared cache and refreshes them
// on a timer.
type Accountant struct {
	cfg     AccountantConfig
	client  drepo.AccountClient
	cache   cache.Service
	metrics drepo.Metrics
	l       *applogger.Logger

	refreshMu sync.Mutex

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastActive atomic.Int64
	faulty     atomic.Bool
}

func NewAccountant(cfg AccountantConfig, client drepo.AccountClient, c cache.Service, metrics drepo.Metrics, l *applogger.Logger) (*Accountant, error) {
	if client == nil || c == nil {
		return nil, models.Errorf(models.KindValidation, "accountant.new", "account client and cache are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BalanceTTL <= 0 {
		cfg.BalanceTTL = time.Minute
	}
	return &Accountant{
		cfg:     cfg,
		client:  client,
		cache:   c,
		metrics: metrics,
		l:       l.With(applogger.String("component", "accountant")),
	}, nil
}

func (a *Accountant) Name() string { return "accountant" }

func (a *Accountant) IsFaulty() bool { return a.faulty.Load() }

func (a *Accountant) LastActive() time.Time {
	if ns := a.lastActive.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Start loads balances once and then refreshes them every interval.
func (a *Accountant) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if err := a.Refresh(ctx); err != nil {
		return models.NewError(models.KindStartup, "accountant.start", err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	a.started = true
	go a.loop(runCtx)
	return nil
}

func (a *Accountant) Finish(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Accountant) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.l.Warn("balance refresh failed", applogger.Error(err))
			}
		}
	}
}

// Refresh reloads all balances from the exchange into the cache.
func (a *Accountant) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	start := time.Now()
	balances, err := a.client.Balances(ctx)
	a.metrics.RecordLatency("balances", time.Since(start).Seconds())
	if err != nil {
		a.faulty.Store(true)
		a.metrics.RecordError("balances")
		return models.NewError(models.KindTransient, "accountant.refresh", err)
	}
	if err := a.cache.DeleteByPattern(ctx, cache.BuildPattern(balanceKey)); err != nil {
		a.l.Warn("clear cached balances failed", applogger.Error(err))
	}
	for _, b := range balances {
		if err := a.cache.Set(ctx, cache.GenerateKey(balanceKey, b.Asset), b, a.cfg.BalanceTTL); err != nil {
			return models.NewError(models.KindTransient, "accountant.cache", err)
		}
	}
	// Marks the snapshot as present even when the account holds nothing.
	if err := a.cache.Set(ctx, cache.GenerateKey(balanceKey, balanceSnapshot), len(balances), a.cfg.BalanceTTL); err != nil {
		return models.NewError(models.KindTransient, "accountant.cache", err)
	}
	a.faulty.Store(false)
	a.lastActive.Store(time.Now().UnixNano())
	a.l.Debug("balances refreshed", applogger.Int("assets", len(balances)))
	return nil
}

// GetBalance returns the cached balance of asset, refreshing when the cached
// snapshot expired. Assets the account does not hold are zero.
func (a *Accountant) GetBalance(ctx context.Context, asset string) (models.Balance, error) {
	b, err := a.cached(ctx, asset)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		a.l.Warn("balance cache read failed", applogger.String("asset", asset), applogger.Error(err))
	}
	if err := a.Refresh(ctx); err != nil {
		return models.Balance{}, err
	}
	if b, err := a.cached(ctx, asset); err == nil {
		return b, nil
	}
	return models.Balance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}, nil
}

func (a *Accountant) cached(ctx context.Context, asset string) (models.Balance, error) {
	b, err := cache.GetTyped[models.Balance](ctx, a.cache, cache.GenerateKey(balanceKey, asset))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return models.Balance{}, err
	}
	ok, exErr := a.cache.Exists(ctx, cache.GenerateKey(balanceKey, balanceSnapshot))
	if exErr == nil && ok {
		return models.Balance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}, nil
	}
	return models.Balance{}, err
}
