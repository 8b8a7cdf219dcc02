package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload any) error
}

type CollectionConfig struct {
	// TimeInterval is the flush period.
	TimeInterval time.Duration
	// CountThreshold flushes early once this many distinct entries are held.
	CountThreshold int
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration
	// OnError receives publish failures; the default writes to stderr.
	OnError func(error)
}

// AggregatedLogEntry counts repeats of one log site and message. Fields are
// those of the most recent occurrence.
type AggregatedLogEntry struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller"`
	Fields    map[string]any `json:"fields"`
	Count     int            `json:"count"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
}

// LogCollector batches repeated log entries and ships them to a topic, so a
// flapping dependency produces one record per interval instead of a flood.
type LogCollector struct {
	cfg CollectionConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry

	flushCh chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := *cfg
	if c.TimeInterval <= 0 {
		c.TimeInterval = 30 * time.Second
	}
	if c.CountThreshold <= 0 {
		c.CountThreshold = 100
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.OnError == nil {
		c.OnError = func(err error) { fmt.Fprintln(os.Stderr, "log collector:", err) }
	}
	lc := &LogCollector{
		cfg:     c,
		now:     time.Now,
		entries: make(map[string]*AggregatedLogEntry),
		flushCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go lc.run()
	return lc
}

func (lc *LogCollector) AddLog(level, message string, fields map[string]any, caller string) {
	now := lc.now()
	key := level + "\x00" + caller + "\x00" + message

	lc.mu.Lock()
	e, ok := lc.entries[key]
	if !ok {
		e = &AggregatedLogEntry{Level: level, Message: message, Caller: caller, FirstSeen: now}
		lc.entries[key] = e
	}
	e.Count++
	e.LastSeen = now
	e.Fields = fields
	full := len(lc.entries) >= lc.cfg.CountThreshold
	lc.mu.Unlock()

	if full {
		select {
		case lc.flushCh <- struct{}{}:
		default:
		}
	}
}

func (lc *LogCollector) run() {
	defer close(lc.done)
	t := time.NewTicker(lc.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			lc.flush()
		case <-lc.flushCh:
			lc.flush()
		case <-lc.stop:
			lc.flush()
			return
		}
	}
}

// drain takes the held entries, oldest first.
func (lc *LogCollector) drain() []AggregatedLogEntry {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if len(lc.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(lc.entries))
	for _, e := range lc.entries {
		out = append(out, *e)
	}
	lc.entries = make(map[string]*AggregatedLogEntry)
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

func (lc *LogCollector) flush() {
	batch := lc.drain()
	if len(batch) == 0 || lc.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lc.cfg.PublishTimeout)
	defer cancel()
	if err := lc.cfg.Publisher.PublishMessage(ctx, lc.cfg.Topic, batch); err != nil {
		lc.cfg.OnError(fmt.Errorf("publish %d entries to %s: %w", len(batch), lc.cfg.Topic, err))
	}
}

// Close flushes what is held and stops the collector. It is safe to call
// more than once.
func (lc *LogCollector) Close() {
	lc.once.Do(func() { close(lc.stop) })
	<-lc.done
}
