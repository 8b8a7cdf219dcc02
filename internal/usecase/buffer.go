package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	mid "Trape/internal/middleware"
	"Trape/internal/services/stats"
	"Trape/pkg/cache"
	applogger "Trape/pkg/logger"
)

const symbolInfoKey = "symbolinfo"

type BufferConfig struct {
	Symbols        []string
	Source         string
	SampleSide     string
	Stats          stats.Config
	Shards         int
	ShardQueue     int
	ReconnectDelay time.Duration
	MetadataTTL    time.Duration
}

type symbolState struct {
	mu     sync.RWMutex
	price  models.CurrentPrice
	series *stats.Series
}

// Buffer ingests the market stream and keeps rolling statistics per symbol.
// Ingestion runs on the tick pipeline shards; every query copies state under
// the symbol's read lock.
type Buffer struct {
	cfg      BufferConfig
	stream   drepo.MarketStream
	exchange drepo.ExchangeInfoClient
	cache    cache.Service
	metrics  drepo.Metrics
	l        *applogger.Logger
	pipe     *mid.TickPipeline

	states sync.Map // symbol -> *symbolState

	infoMu sync.RWMutex
	infos  map[string]models.SymbolInfo

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastActive atomic.Int64
	faulty     atomic.Bool
}

func NewBuffer(cfg BufferConfig, stream drepo.MarketStream, exchange drepo.ExchangeInfoClient, c cache.Service, metrics drepo.Metrics, l *applogger.Logger) (*Buffer, error) {
	if stream == nil {
		return nil, models.Errorf(models.KindValidation, "buffer.new", "market stream is required")
	}
	if metrics == nil || l == nil {
		return nil, models.Errorf(models.KindValidation, "buffer.new", "metrics and logger are required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = time.Hour
	}
	if cfg.SampleSide == "" {
		cfg.SampleSide = string(models.SideAsk)
	}
	b := &Buffer{
		cfg:      cfg,
		stream:   stream,
		exchange: exchange,
		cache:    c,
		metrics:  metrics,
		l:        l.With(applogger.String("component", "buffer")),
		infos:    make(map[string]models.SymbolInfo),
	}
	b.pipe = mid.NewTickPipeline(b, metrics, mid.WithShards(cfg.Shards), mid.WithQueueSize(cfg.ShardQueue))
	return b, nil
}

func (b *Buffer) Name() string { return "buffer" }

func (b *Buffer) IsFaulty() bool { return b.faulty.Load() }

func (b *Buffer) LastActive() time.Time {
	if ns := b.lastActive.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Start loads symbol metadata, opens the subscription and begins ingestion.
// A stream that cannot be opened fails the start; there is no internal retry.
func (b *Buffer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	if err := b.loadSymbolInfo(ctx); err != nil {
		b.l.Warn("symbol metadata unavailable", applogger.Error(err))
		b.metrics.RecordError("symbol_info")
	}

	if err := b.stream.Connect(ctx); err != nil {
		return models.NewError(models.KindSubscription, "buffer.connect", err)
	}
	if err := b.stream.Subscribe(ctx); err != nil {
		_ = b.stream.Close()
		return models.NewError(models.KindSubscription, "buffer.subscribe", err)
	}

	base := context.WithoutCancel(ctx)
	b.pipe.Start(base)
	runCtx, cancel := context.WithCancel(base)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.started = true
	b.faulty.Store(false)

	go b.consume(runCtx)
	b.l.Info("buffer started", applogger.Strings("symbols", b.cfg.Symbols), applogger.String("sample_side", b.cfg.SampleSide))
	return nil
}

// Finish closes the subscription and drains queued ticks. State stays queryable.
func (b *Buffer) Finish(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.cancel()
	err := b.stream.Close()

	select {
	case <-b.done:
	case <-ctx.Done():
		b.l.Warn("buffer finish timed out waiting for consumer", applogger.Error(ctx.Err()))
	}
	b.pipe.Stop()
	b.l.Info("buffer finished")
	if err != nil {
		return fmt.Errorf("close market stream: %w", err)
	}
	return nil
}

func (b *Buffer) consume(ctx context.Context) {
	defer close(b.done)
	tickCh, errCh := b.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err == nil {
				continue
			}
			if err != nil {
				b.l.Warn("market stream error", applogger.Error(err))
				b.metrics.RecordError("stream")
			}
			if tickCh, errCh = b.reconnect(ctx); tickCh == nil {
				return
			}
		case t, ok := <-tickCh:
			if !ok {
				if tickCh, errCh = b.reconnect(ctx); tickCh == nil {
					return
				}
				continue
			}
			if t == nil {
				continue
			}
			b.metrics.RecordTick(b.cfg.Source, t.Symbol)
			if err := b.pipe.Process(ctx, t); err != nil && ctx.Err() == nil {
				b.l.Debug("tick rejected", applogger.String("symbol", t.Symbol), applogger.Error(err))
			}
		}
	}
}

// reconnect retries until the stream is back or ctx ends; statistics are kept.
func (b *Buffer) reconnect(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		err := b.stream.Reconnect(ctx)
		if err == nil {
			b.faulty.Store(false)
			b.l.Info("market stream reconnected")
			return b.stream.Read(ctx)
		}
		b.faulty.Store(true)
		b.metrics.RecordError("stream_reconnect")
		b.l.Warn("market stream reconnect failed", applogger.Error(err), applogger.Duration("retry_in", b.cfg.ReconnectDelay))
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(b.cfg.ReconnectDelay):
		}
	}
}

func (b *Buffer) loadSymbolInfo(ctx context.Context) error {
	missing := make([]string, 0, len(b.cfg.Symbols))
	for _, s := range b.cfg.Symbols {
		if b.cache != nil {
			var info models.SymbolInfo
			if err := b.cache.Get(ctx, cache.GenerateKey(symbolInfoKey, s), &info); err == nil && info.Symbol != "" {
				b.setInfo(info)
				continue
			}
		}
		missing = append(missing, s)
	}
	if len(missing) == 0 || b.exchange == nil {
		return nil
	}
	infos, err := b.exchange.SymbolInfo(ctx, missing)
	if err != nil {
		return fmt.Errorf("fetch symbol info: %w", err)
	}
	for _, info := range infos {
		b.setInfo(info)
		if b.cache != nil {
			if err := b.cache.Set(ctx, cache.GenerateKey(symbolInfoKey, info.Symbol), info, b.cfg.MetadataTTL); err != nil {
				b.l.Warn("cache symbol info failed", applogger.String("symbol", info.Symbol), applogger.Error(err))
			}
		}
	}
	return nil
}

func (b *Buffer) setInfo(info models.SymbolInfo) {
	b.infoMu.Lock()
	b.infos[info.Symbol] = info
	b.infoMu.Unlock()
}

func (b *Buffer) state(symbol string) *symbolState {
	if v, ok := b.states.Load(symbol); ok {
		return v.(*symbolState)
	}
	st := &symbolState{
		price:  models.CurrentPrice{Symbol: symbol},
		series: stats.NewSeries(symbol, b.cfg.Stats),
	}
	v, _ := b.states.LoadOrStore(symbol, st)
	return v.(*symbolState)
}

func (b *Buffer) lookup(symbol string) (*symbolState, bool) {
	v, ok := b.states.Load(symbol)
	if !ok {
		return nil, false
	}
	return v.(*symbolState), true
}

func (b *Buffer) sampled(side models.Side) bool {
	return b.cfg.SampleSide == "both" || string(side) == b.cfg.SampleSide
}

// Apply folds one tick into the symbol state. Called from a single shard
// goroutine per symbol.
func (b *Buffer) Apply(t *models.Tick) {
	st := b.state(t.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch t.Side {
	case models.SideAsk:
		if !t.Timestamp.Before(st.price.AskTime) {
			st.price.Ask, st.price.AskTime = t.Price, t.Timestamp
		}
	case models.SideBid:
		if !t.Timestamp.Before(st.price.BidTime) {
			st.price.Bid, st.price.BidTime = t.Price, t.Timestamp
		}
	}
	if b.sampled(t.Side) {
		if st.series.Add(t.Timestamp, t.Price) {
			b.metrics.RecordLastPrice(t.Symbol, t.Price)
		} else {
			b.metrics.RecordError("stale_tick")
		}
	}
	b.lastActive.Store(time.Now().UnixNano())
}

func (b *Buffer) GetAskPrice(symbol string) float64 {
	st, ok := b.lookup(symbol)
	if !ok {
		return models.NoPrice
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.price.Ask
}

func (b *Buffer) GetBidPrice(symbol string) float64 {
	st, ok := b.lookup(symbol)
	if !ok {
		return models.NoPrice
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.price.Bid
}

func (b *Buffer) GetSymbolInfoFor(symbol string) (models.SymbolInfo, bool) {
	b.infoMu.RLock()
	defer b.infoMu.RUnlock()
	info, ok := b.infos[symbol]
	return info, ok
}

func (b *Buffer) GetLatestMA10mAndMA30mCrossing(symbol string) models.CrossingEvent {
	st, ok := b.lookup(symbol)
	if !ok {
		return models.CrossingEvent{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.series.CrossingMA10mMA30m()
}

func (b *Buffer) GetLatestMA1hAndMA3hCrossing(symbol string) models.CrossingEvent {
	st, ok := b.lookup(symbol)
	if !ok {
		return models.CrossingEvent{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.series.CrossingMA1hMA3h()
}

func (b *Buffer) GetLastFallingPrice(symbol string) models.FallingPrice {
	st, ok := b.lookup(symbol)
	if !ok {
		return models.FallingPrice{}
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.series.Falling()
}

// GetSymbols returns the symbols holding at least one sample, sorted.
func (b *Buffer) GetSymbols() []string {
	out := make([]string, 0, len(b.cfg.Symbols))
	b.states.Range(func(k, v any) bool {
		st := v.(*symbolState)
		st.mu.RLock()
		empty := st.series.Empty()
		st.mu.RUnlock()
		if !empty {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}

// Snapshot copies everything the decision pass reads for symbol under one lock.
func (b *Buffer) Snapshot(symbol string) (models.SymbolSnapshot, bool) {
	st, ok := b.lookup(symbol)
	if !ok {
		return models.SymbolSnapshot{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.series.Empty() {
		return models.SymbolSnapshot{}, false
	}
	return models.SymbolSnapshot{
		Symbol:           symbol,
		Price:            st.price,
		Windows:          st.series.Stats(),
		CrossingMA10m30m: st.series.CrossingMA10mMA30m(),
		CrossingMA1h3h:   st.series.CrossingMA1hMA3h(),
		Falling:          st.series.Falling(),
	}, true
}

// Prices returns the current ask/bid of every known symbol.
func (b *Buffer) Prices() []models.CurrentPrice {
	out := make([]models.CurrentPrice, 0, len(b.cfg.Symbols))
	b.states.Range(func(_, v any) bool {
		st := v.(*symbolState)
		st.mu.RLock()
		out = append(out, st.price)
		st.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// StatsFor returns the window of res for every symbol with samples.
func (b *Buffer) StatsFor(res models.Resolution) []models.StatsWindow {
	out := make([]models.StatsWindow, 0, len(b.cfg.Symbols))
	b.states.Range(func(_, v any) bool {
		st := v.(*symbolState)
		st.mu.RLock()
		if !st.series.Empty() {
			out = append(out, st.series.Window(res))
		}
		st.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (b *Buffer) Stats3s() []models.Stats3s {
	ws := b.StatsFor(models.Res3s)
	out := make([]models.Stats3s, len(ws))
	for i, w := range ws {
		out[i] = w.Stats3s()
	}
	return out
}

func (b *Buffer) Stats15s() []models.Stats15s {
	ws := b.StatsFor(models.Res15s)
	out := make([]models.Stats15s, len(ws))
	for i, w := range ws {
		out[i] = w.Stats15s()
	}
	return out
}

func (b *Buffer) Stats2m() []models.Stats2m {
	ws := b.StatsFor(models.Res2m)
	out := make([]models.Stats2m, len(ws))
	for i, w := range ws {
		out[i] = w.Stats2m()
	}
	return out
}

func (b *Buffer) Stats10m() []models.Stats10m {
	ws := b.StatsFor(models.Res10m)
	out := make([]models.Stats10m, len(ws))
	for i, w := range ws {
		out[i] = w.Stats10m()
	}
	return out
}

func (b *Buffer) Stats2h() []models.Stats2h {
	ws := b.StatsFor(models.Res2h)
	out := make([]models.Stats2h, len(ws))
	for i, w := range ws {
		out[i] = w.Stats2h()
	}
	return out
}

// IsConnected reports the market stream state.
func (b *Buffer) IsConnected() bool { return b.stream.IsConnected() }
