package middleware

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"Trape/internal/domain/models"
	domrepo "Trape/internal/domain/repository"
)

// Applier is the minimal consumer the pipeline feeds. Apply is only ever
// called from one shard goroutine per symbol.
type Applier interface {
	Apply(t *models.Tick)
}

// TickPipeline sits between the market stream and the Buffer. It validates
// ticks and dispatches them to a fixed set of shard goroutines chosen by
// symbol hash, so ticks of one symbol are applied in arrival order and
// unrelated symbols never contend.
type TickPipeline struct {
	sink      Applier
	metrics   domrepo.Metrics
	shards    []chan *models.Tick
	queueSize int
	started   bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
}

type PipelineOption func(*TickPipeline)

// WithShards sets the number of shard goroutines.
func WithShards(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.shards = make([]chan *models.Tick, n)
		}
	}
}

// WithQueueSize sets the per-shard queue capacity.
func WithQueueSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

func NewTickPipeline(sink Applier, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		sink:      sink,
		metrics:   metrics,
		shards:    make([]chan *models.Tick, 8),
		queueSize: 1024,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the shard goroutines.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := range p.shards {
		ch := make(chan *models.Tick, p.queueSize)
		p.shards[i] = ch
		p.wg.Add(1)
		go p.run(ctx, ch)
	}
}

func (p *TickPipeline) run(ctx context.Context, ch <-chan *models.Tick) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			start := time.Now()
			p.sink.Apply(t)
			p.metrics.RecordLatency("pipeline_apply", time.Since(start).Seconds())
		}
	}
}

// Stop closes the shard queues and waits for queued ticks to be applied.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Process validates t and queues it on its shard. It blocks while the shard
// queue is full so per-symbol order is never broken by dropping.
func (p *TickPipeline) Process(ctx context.Context, t *models.Tick) error {
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started {
		return fmt.Errorf("pipeline not started")
	}
	select {
	case p.shards[p.shardFor(t.Symbol)] <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *TickPipeline) shardFor(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("price invalid")
	}
	if t.Side != models.SideAsk && t.Side != models.SideBid {
		return fmt.Errorf("side invalid")
	}
	return nil
}
