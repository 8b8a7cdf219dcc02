package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	applogger "Trape/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// StartOffset applies when the group has no committed offset yet.
	StartOffset   int64
	WorkerCount   int
	BufferSize    int
	RetryMax      int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	DLQTopic      string
	MinBytes      int
	MaxBytes      int
	CommitTimeout time.Duration
	Logger        *applogger.Logger
}

func defaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		GroupID:       "trape",
		StartOffset:   kafka.FirstOffset,
		WorkerCount:   1,
		BufferSize:    64,
		RetryMax:      3,
		BackoffMin:    50 * time.Millisecond,
		BackoffMax:    2 * time.Second,
		MinBytes:      1,
		MaxBytes:      10e6,
		CommitTimeout: 2 * time.Second,
	}
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithConsumerAutoOffsetReset accepts "earliest" or "latest".
func WithConsumerAutoOffsetReset(reset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if reset == "latest" {
			c.StartOffset = kafka.LastOffset
		} else {
			c.StartOffset = kafka.FirstOffset
		}
	}
}

// WithConsumerWorkers sets the number of handling lanes. Messages of one
// partition always land on the same lane.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) { c.WorkerCount = count }
}

func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ routes messages that exhausted their retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// WithConsumerBufferSize sets the total queue capacity shared by the lanes.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// Consumer fetches from one reader per registered topic and hands messages to
// a fixed set of lanes. Offsets are committed after handling, so delivery is
// at least once.
type Consumer struct {
	cfg       *ConsumerConfig
	l         *applogger.Logger
	hook      ConsumerHook
	handlers  map[string]MessageHandler
	readers   map[string]messageReader
	newReader func(topic string) messageReader
	dlq       messageWriter

	ctx    context.Context
	cancel context.CancelFunc
	lanes  []chan fetched
	fetchW sync.WaitGroup
	laneW  sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

type fetched struct {
	reader messageReader
	msg    kafka.Message
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.MinBytes <= 0 || cfg.MaxBytes < cfg.MinBytes {
		cfg.MinBytes, cfg.MaxBytes = 1, 10e6
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 50 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		l:        cfg.Logger.With(applogger.String("component", "kafka_consumer")),
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]messageReader),
	}
	c.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.GroupID,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			StartOffset: cfg.StartOffset,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.DLQTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	return c, nil
}

// WithConsumerHook replaces the lifecycle hook. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler keeps the first handler registered for a topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.l.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("consumer already started")
	}
	if len(c.handlers) == 0 {
		return errors.New("no handlers registered")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(context.Background())

	perLane := c.cfg.BufferSize / c.cfg.WorkerCount
	if perLane < 1 {
		perLane = 1
	}
	c.lanes = make([]chan fetched, c.cfg.WorkerCount)
	for i := range c.lanes {
		c.lanes[i] = make(chan fetched, perLane)
		c.laneW.Add(1)
		go c.runLane(c.lanes[i])
	}
	for topic := range c.handlers {
		r := c.newReader(topic)
		c.readers[topic] = r
		c.fetchW.Add(1)
		go c.fetch(topic, r)
	}

	c.l.Info("consumer started",
		applogger.Int("lanes", len(c.lanes)),
		applogger.Int("topics", len(c.readers)),
		applogger.String("group_id", c.cfg.GroupID))
	return nil
}

// Stop cancels fetching, lets the lanes finish their current message and
// closes the readers. Queued messages are left uncommitted.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}

	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		done := make(chan struct{})
		go func() {
			c.fetchW.Wait()
			for _, lane := range c.lanes {
				close(lane)
			}
			c.laneW.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.l.Warn("close reader failed", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.l.Warn("close dlq writer failed", applogger.Error(cerr))
			}
		}
		if err == nil {
			c.l.Info("consumer stopped")
		}
	})
	return err
}

func (c *Consumer) fetch(topic string, r messageReader) {
	defer c.fetchW.Done()
	m := consumerMetrics()
	failures := 0
	for {
		msg, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.l.Warn("fetch failed", applogger.String("topic", topic), applogger.Int("failures", failures), applogger.Error(err))
			if !sleepCtx(c.ctx, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		lane := c.lanes[msg.Partition%len(c.lanes)]
		select {
		case lane <- fetched{reader: r, msg: msg}:
			m.queueDepth.WithLabelValues(topic).Set(float64(len(lane)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) runLane(in <-chan fetched) {
	defer c.laneW.Done()
	for f := range in {
		if c.ctx.Err() != nil {
			continue
		}
		c.process(f.reader, f.msg)
	}
}

func (c *Consumer) process(r messageReader, msg kafka.Message) {
	h, ok := c.handlers[msg.Topic]
	if !ok {
		return
	}
	start := time.Now()
	attempts, err := c.handleWithRetry(h, msg)
	consumerMetrics().handleSeconds.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())

	if err != nil {
		consumerMetrics().failures.WithLabelValues(msg.Topic).Inc()
		c.hook.OnError(c.ctx, msg.Topic, msg, msg.Value, err)
		c.l.Error("message handling failed",
			applogger.String("topic", msg.Topic),
			applogger.Int("partition", msg.Partition),
			applogger.Int64("offset", msg.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if !c.deadLetter(msg, err) {
			return
		}
	}
	c.commit(r, msg)
}

func (c *Consumer) handleWithRetry(h MessageHandler, msg kafka.Message) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(h, msg)
		if err == nil || attempt > c.cfg.RetryMax {
			return attempt, err
		}
		if !sleepCtx(c.ctx, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return attempt, err
		}
	}
}

func (c *Consumer) handleOnce(h MessageHandler, msg kafka.Message) (err error) {
	ctx, km, data, err := c.hook.BeforeHandle(c.ctx, msg.Topic, msg, msg.Value)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.AfterHandle(ctx, km.Topic, km, data, err)
	}()
	return h.Handle(ctx, data)
}

// deadLetter reports whether the message may be committed.
func (c *Consumer) deadLetter(msg kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitTimeout)
	defer cancel()
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(msg.Topic)},
		{Key: "error", Value: []byte(cause.Error())},
	}, msg.Headers...)
	err := c.dlq.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
	if err != nil {
		c.l.Error("dlq write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(r messageReader, msg kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitTimeout)
		err = r.CommitMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		if !sleepCtx(c.ctx, backoff(50*time.Millisecond, 500*time.Millisecond, attempt)) {
			break
		}
	}
	c.l.Warn("commit failed", applogger.String("topic", msg.Topic), applogger.Int64("offset", msg.Offset), applogger.Error(err))
}

// backoff doubles from min per attempt, capped at max, minus up to half as jitter.
func backoff(min, max time.Duration, attempt int) time.Duration {
	d := max
	if attempt < 32 {
		if exp := min << (attempt - 1); exp > 0 && exp < max {
			d = exp
		}
	}
	if half := int64(d / 2); half > 0 {
		d -= time.Duration(rand.Int64N(half))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

type consumerCollectors struct {
	queueDepth    *prometheus.GaugeVec
	handleSeconds *prometheus.HistogramVec
	failures      *prometheus.CounterVec
}

var (
	consumerOnce sync.Once
	consumerCols *consumerCollectors
)

func consumerMetrics() *consumerCollectors {
	consumerOnce.Do(func() {
		consumerCols = &consumerCollectors{
			queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "trape_kafka_consumer_queue_depth",
				Help: "Messages waiting in a consumer lane",
			}, []string{"topic"}),
			handleSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "trape_kafka_consumer_handle_seconds",
				Help:    "Handling time per message including retries",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			}, []string{"topic"}),
			failures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "trape_kafka_consumer_failures_total",
				Help: "Messages that exhausted their retries",
			}, []string{"topic"}),
		}
	})
	return consumerCols
}
