package kafkastream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	"Trape/pkg/kafka"
	applogger "Trape/pkg/logger"

	"github.com/goccy/go-json"
)

type Config struct {
	Brokers    []string
	Topic      string
	GroupID    string
	Workers    int
	BufferSize int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	DLQTopic   string
	MinBytes   int
	MaxBytes   int
	// Symbols restricts accepted ticks; empty accepts all.
	Symbols      []string
	StopTimeout  time.Duration
	ReconnectGap time.Duration
	// Hooks run around every message, after the trace hook.
	Hooks []kafka.ConsumerHook
}

type consumer interface {
	RegisterHandler(kafka.MessageHandler)
	Start() error
	Stop(ctx context.Context) error
}

// Stream replays ticks published on a Kafka topic as a MarketStream, so the
// engine can run off a recorded or fanned-out feed.
type Stream struct {
	cfg         Config
	l           *applogger.Logger
	now         func() time.Time
	newConsumer func() (consumer, error)
	symbols     map[string]struct{}
	dropped     atomic.Int64

	mu        sync.Mutex
	consumer  consumer
	ticks     chan *models.Tick
	connected bool
}

var _ drepo.MarketStream = (*Stream)(nil)

func New(cfg Config, l *applogger.Logger) (*Stream, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka stream: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka stream: topic is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.ReconnectGap <= 0 {
		cfg.ReconnectGap = time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	s := &Stream{
		cfg:     cfg,
		l:       l.With(applogger.String("component", "kafka_stream"), applogger.String("topic", cfg.Topic)),
		now:     time.Now,
		symbols: make(map[string]struct{}, len(cfg.Symbols)),
	}
	for _, sym := range cfg.Symbols {
		s.symbols[strings.ToUpper(sym)] = struct{}{}
	}
	hooks := kafka.NewHookChain(append([]kafka.ConsumerHook{kafka.TraceHook{}}, cfg.Hooks...)...)
	s.newConsumer = func() (consumer, error) {
		c, err := kafka.NewConsumer(
			kafka.WithConsumerBrokers(cfg.Brokers),
			kafka.WithConsumerGroupID(cfg.GroupID),
			kafka.WithConsumerAutoOffsetReset("latest"),
			kafka.WithConsumerWorkers(cfg.Workers),
			kafka.WithConsumerBufferSize(cfg.BufferSize),
			kafka.WithConsumerRetry(cfg.RetryMax, cfg.BackoffMin, cfg.BackoffMax),
			kafka.WithConsumerDLQ(cfg.DLQTopic),
			kafka.WithConsumerFetch(cfg.MinBytes, cfg.MaxBytes),
			kafka.WithConsumerLogger(l),
		)
		if err != nil {
			return nil, err
		}
		c.WithConsumerHook(hooks)
		return c, nil
	}
	return s, nil
}

func (s *Stream) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.newConsumer()
	if err != nil {
		return fmt.Errorf("kafka stream connect: %w", err)
	}
	s.mu.Lock()
	s.consumer = c
	s.ticks = make(chan *models.Tick, s.cfg.BufferSize)
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Subscribe registers the tick handler and starts consuming.
func (s *Stream) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	c, ticks := s.consumer, s.ticks
	s.mu.Unlock()
	if c == nil {
		return errors.New("kafka stream not connected")
	}
	c.RegisterHandler(&tickHandler{topic: s.cfg.Topic, stream: s, out: ticks})
	if err := c.Start(); err != nil {
		return fmt.Errorf("kafka stream subscribe: %w", err)
	}
	s.l.Info("subscribed")
	return nil
}

// Read returns the tick channel of the current connection. The consumer
// retries broker failures itself, so the error channel only reports a missing
// connection.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	errs := make(chan error, 1)
	s.mu.Lock()
	ticks := s.ticks
	s.mu.Unlock()
	if ticks == nil {
		errs <- errors.New("kafka stream not connected")
		closed := make(chan *models.Tick)
		close(closed)
		return closed, errs
	}
	return ticks, errs
}

func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.ReconnectGap):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	c := s.consumer
	s.consumer = nil
	s.connected = false
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	defer cancel()
	return c.Stop(ctx)
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Dropped counts ticks discarded because the reader fell behind.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

type tickHandler struct {
	topic  string
	stream *Stream
	out    chan<- *models.Tick
}

func (h *tickHandler) Topic() string { return h.topic }

// Handle never returns an error for bad payloads: retrying a malformed tick
// cannot succeed.
func (h *tickHandler) Handle(ctx context.Context, data []byte) error {
	t, err := h.stream.decode(data)
	if err != nil {
		h.stream.l.Warn("discarding tick", applogger.String("trace_id", kafka.TraceID(ctx)), applogger.Error(err))
		return nil
	}
	if t == nil {
		return nil
	}
	select {
	case h.out <- t:
	default:
		h.stream.dropped.Add(1)
	}
	return nil
}

// decode parses one tick. A nil tick with nil error means filtered out.
func (s *Stream) decode(data []byte) (*models.Tick, error) {
	var t models.Tick
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tick: %w", err)
	}
	t.Symbol = strings.ToUpper(t.Symbol)
	switch {
	case t.Symbol == "":
		return nil, errors.New("tick without symbol")
	case t.Price <= 0:
		return nil, fmt.Errorf("tick %s: non-positive price %v", t.Symbol, t.Price)
	case t.Side != models.SideAsk && t.Side != models.SideBid:
		return nil, fmt.Errorf("tick %s: unknown side %q", t.Symbol, t.Side)
	}
	if len(s.symbols) > 0 {
		if _, ok := s.symbols[t.Symbol]; !ok {
			return nil, nil
		}
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now().UTC()
	}
	return &t, nil
}
