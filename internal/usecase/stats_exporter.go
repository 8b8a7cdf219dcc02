package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	applogger "Trape/pkg/logger"
)

// StatsSource is the part of the Buffer the exporter reads.
type StatsSource interface {
	StatsFor(res models.Resolution) []models.StatsWindow
	Prices() []models.CurrentPrice
}

// StatsExporter periodically writes every statistics window and the current
// prices to the stats store.
type StatsExporter struct {
	interval time.Duration
	timeout  time.Duration
	source   StatsSource
	writer   drepo.StatsWriter
	metrics  drepo.Metrics
	l        *applogger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastActive atomic.Int64
	faulty     atomic.Bool
}

func NewStatsExporter(interval time.Duration, source StatsSource, writer drepo.StatsWriter, metrics drepo.Metrics, l *applogger.Logger) *StatsExporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsExporter{
		interval: interval,
		timeout:  interval,
		source:   source,
		writer:   writer,
		metrics:  metrics,
		l:        l.With(applogger.String("component", "stats_exporter")),
	}
}

func (e *StatsExporter) Name() string { return "stats_exporter" }

func (e *StatsExporter) IsFaulty() bool { return e.faulty.Load() }

func (e *StatsExporter) LastActive() time.Time {
	if ns := e.lastActive.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

func (e *StatsExporter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true
	go e.loop(runCtx)
	e.l.Info("stats exporter started", applogger.Duration("interval", e.interval))
	return nil
}

// Finish ends the loop and runs one final export.
func (e *StatsExporter) Finish(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.Export(ctx)
}

func (e *StatsExporter) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Export(ctx); err != nil && ctx.Err() == nil {
				e.l.Warn("stats export failed", applogger.Error(err))
			}
		}
	}
}

// Export writes one snapshot of every resolution and the current prices.
func (e *StatsExporter) Export(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()

	var errs []error
	for _, res := range models.Resolutions {
		windows := e.source.StatsFor(res)
		if len(windows) == 0 {
			continue
		}
		if err := e.writer.WriteStats(ctx, res, windows); err != nil {
			errs = append(errs, models.NewError(models.KindTransient, "export.stats_"+string(res), err))
		}
	}
	if prices := e.source.Prices(); len(prices) > 0 {
		if err := e.writer.WritePrices(ctx, prices); err != nil {
			errs = append(errs, models.NewError(models.KindTransient, "export.prices", err))
		}
	}
	e.metrics.RecordLatency("stats_export", time.Since(start).Seconds())
	e.faulty.Store(len(errs) > 0)
	if len(errs) > 0 {
		e.metrics.RecordError("stats_export")
	} else {
		e.lastActive.Store(time.Now().UnixNano())
	}
	return errors.Join(errs...)
}
