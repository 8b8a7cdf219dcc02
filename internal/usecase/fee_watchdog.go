package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	applogger "Trape/pkg/logger"

	"github.com/shopspring/decimal"
)

type FeeWatchdogConfig struct {
	Symbols      []string
	Interval     time.Duration
	DefaultMaker decimal.Decimal
	DefaultTaker decimal.Decimal
}

// FeeWatchdog polls the exchange fee schedule. Symbols the exchange does not
// report fall back to the configured defaults.
type FeeWatchdog struct {
	cfg     FeeWatchdogConfig
	client  drepo.FeeClient
	metrics drepo.Metrics
	l       *applogger.Logger

	feesMu sync.RWMutex
	fees   map[string]models.Fee

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastActive atomic.Int64
	faulty     atomic.Bool
}

func NewFeeWatchdog(cfg FeeWatchdogConfig, client drepo.FeeClient, metrics drepo.Metrics, l *applogger.Logger) (*FeeWatchdog, error) {
	if client == nil {
		return nil, models.Errorf(models.KindValidation, "fees.new", "fee client is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &FeeWatchdog{
		cfg:     cfg,
		client:  client,
		metrics: metrics,
		l:       l.With(applogger.String("component", "fee_watchdog")),
		fees:    make(map[string]models.Fee),
	}, nil
}

func (f *FeeWatchdog) Name() string { return "fee_watchdog" }

func (f *FeeWatchdog) IsFaulty() bool { return f.faulty.Load() }

func (f *FeeWatchdog) LastActive() time.Time {
	if ns := f.lastActive.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Start fetches the schedule once and keeps polling. A failed first fetch
// leaves the defaults in place.
func (f *FeeWatchdog) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := f.Refresh(ctx); err != nil {
		f.l.Warn("initial fee fetch failed, using defaults", applogger.Error(err))
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	f.done = make(chan struct{})
	f.started = true
	go f.loop(runCtx)
	return nil
}

func (f *FeeWatchdog) Finish(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.started = false
	f.cancel()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FeeWatchdog) loop(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
				f.l.Warn("fee refresh failed", applogger.Error(err))
			}
		}
	}
}

func (f *FeeWatchdog) Refresh(ctx context.Context) error {
	fees, err := f.client.TradeFees(ctx, f.cfg.Symbols)
	if err != nil {
		f.faulty.Store(true)
		f.metrics.RecordError("trade_fees")
		return models.NewError(models.KindTransient, "fees.refresh", err)
	}
	next := make(map[string]models.Fee, len(fees))
	for _, fee := range fees {
		next[fee.Symbol] = fee
	}
	f.feesMu.Lock()
	f.fees = next
	f.feesMu.Unlock()
	f.faulty.Store(false)
	f.lastActive.Store(time.Now().UnixNano())
	return nil
}

func (f *FeeWatchdog) GetFee(symbol string) models.Fee {
	f.feesMu.RLock()
	fee, ok := f.fees[symbol]
	f.feesMu.RUnlock()
	if ok {
		return fee
	}
	return models.Fee{Symbol: symbol, Maker: f.cfg.DefaultMaker, Taker: f.cfg.DefaultTaker}
}
