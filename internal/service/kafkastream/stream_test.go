package kafkastream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Trape/internal/domain/models"
	"Trape/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	mu       sync.Mutex
	handlers []kafka.MessageHandler
	started  int
	stopped  int
	startErr error
}

func (f *fakeConsumer) RegisterHandler(h kafka.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeConsumer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeConsumer) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func newTestStream(t *testing.T, symbols ...string) (*Stream, *[]*fakeConsumer) {
	t.Helper()
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "trape.ticks", BufferSize: 4, Symbols: symbols, ReconnectGap: time.Millisecond}, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	var made []*fakeConsumer
	s.newConsumer = func() (consumer, error) {
		c := &fakeConsumer{}
		made = append(made, c)
		return c, nil
	}
	return s, &made
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no brokers", cfg: Config{Topic: "t"}},
		{name: "no topic", cfg: Config{Brokers: []string{"b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestDecode(t *testing.T) {
	s, _ := newTestStream(t, "BTCUSDT")
	tests := []struct {
		name    string
		payload string
		want    *models.Tick
		wantErr bool
	}{
		{
			name:    "valid",
			payload: `{"symbol":"btcusdt","price":100.5,"side":"ask","timestamp":"2024-05-01T00:00:00Z"}`,
			want:    &models.Tick{Symbol: "BTCUSDT", Price: 100.5, Side: models.SideAsk, Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:    "missing timestamp uses now",
			payload: `{"symbol":"BTCUSDT","price":99,"side":"bid"}`,
			want:    &models.Tick{Symbol: "BTCUSDT", Price: 99, Side: models.SideBid, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		{name: "filtered symbol", payload: `{"symbol":"ETHUSDT","price":1,"side":"ask"}`},
		{name: "zero price", payload: `{"symbol":"BTCUSDT","price":0,"side":"ask"}`, wantErr: true},
		{name: "bad side", payload: `{"symbol":"BTCUSDT","price":1,"side":"mid"}`, wantErr: true},
		{name: "garbage", payload: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.decode([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamDeliversAndDrops(t *testing.T) {
	ctx := context.Background()
	s, made := newTestStream(t)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx))
	require.Len(t, *made, 1)
	c := (*made)[0]
	assert.Equal(t, 1, c.started)
	require.Len(t, c.handlers, 1)
	h := c.handlers[0]
	assert.Equal(t, "trape.ticks", h.Topic())

	for i := 0; i < 6; i++ {
		require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"BTCUSDT","price":1,"side":"ask"}`)))
	}
	require.NoError(t, h.Handle(ctx, []byte(`not json`)))
	assert.Equal(t, int64(2), s.Dropped())

	ticks, _ := s.Read(ctx)
	assert.Len(t, ticks, 4)
}

func TestReconnectReplacesConsumer(t *testing.T) {
	ctx := context.Background()
	s, made := newTestStream(t)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx))

	require.NoError(t, s.Reconnect(ctx))
	require.Len(t, *made, 2)
	assert.Equal(t, 1, (*made)[0].stopped)
	assert.Equal(t, 1, (*made)[1].started)
	assert.True(t, s.IsConnected())

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
	assert.Equal(t, 1, (*made)[1].stopped)
}

func TestSubscribeFailures(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStream(t)
	assert.Error(t, s.Subscribe(ctx))

	s.newConsumer = func() (consumer, error) { return &fakeConsumer{startErr: errors.New("no brokers")}, nil }
	require.NoError(t, s.Connect(ctx))
	assert.Error(t, s.Subscribe(ctx))

	_, errs := (&Stream{}).Read(ctx)
	assert.Error(t, <-errs)
}
