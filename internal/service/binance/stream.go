package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	applogger "Trape/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type StreamConfig struct {
	WebSocketURL   string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Stream is a MarketStream over the combined bookTicker websocket. Each
// book update yields one ask tick and one bid tick.
type Stream struct {
	cfg StreamConfig
	l   *applogger.Logger
	now func() time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ drepo.MarketStream = (*Stream)(nil)

func NewStream(cfg StreamConfig, l *applogger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Stream{cfg: cfg, l: l.With(applogger.String("component", "binance_stream")), now: time.Now}
}

func streamNames(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToLower(s)+"@bookTicker")
	}
	return out
}

// streamURL builds the combined stream endpoint for the configured symbols.
func (s *Stream) streamURL() string {
	return fmt.Sprintf("%s?streams=%s", s.cfg.WebSocketURL, strings.Join(streamNames(s.cfg.Symbols), "/"))
}

func (s *Stream) Connect(ctx context.Context) error {
	if len(s.cfg.Symbols) == 0 {
		return errors.New("binance stream: no symbols configured")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.l.Info("connected", applogger.Int("symbols", len(s.cfg.Symbols)))
	return nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe re-asserts the subscription on the open connection. The combined
// URL already subscribes, so this is idempotent.
func (s *Stream) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return errors.New("binance stream not connected")
	}
	req := subscribeRequest{Method: "SUBSCRIBE", Params: streamNames(s.cfg.Symbols), ID: s.now().UnixMilli()}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.l.Debug("subscribed", applogger.Strings("streams", req.Params))
	return nil
}

type bookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	BidQty   string `json:"B"`
	Ask      string `json:"a"`
	AskQty   string `json:"A"`
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// parseBookTicker turns one frame into ticks. Subscription acks and other
// non-ticker frames yield nothing.
func parseBookTicker(b []byte, at time.Time) ([]*models.Tick, error) {
	var m combinedMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	payload := b
	if len(m.Data) > 0 {
		payload = m.Data
	}
	var bt bookTicker
	if err := json.Unmarshal(payload, &bt); err != nil {
		return nil, err
	}
	if bt.Symbol == "" || bt.Ask == "" || bt.Bid == "" {
		return nil, nil
	}
	ask, err := strconv.ParseFloat(bt.Ask, 64)
	if err != nil {
		return nil, fmt.Errorf("ask %q: %w", bt.Ask, err)
	}
	bid, err := strconv.ParseFloat(bt.Bid, 64)
	if err != nil {
		return nil, fmt.Errorf("bid %q: %w", bt.Bid, err)
	}
	symbol := strings.ToUpper(bt.Symbol)
	return []*models.Tick{
		{Symbol: symbol, Price: ask, Side: models.SideAsk, Timestamp: at},
		{Symbol: symbol, Price: bid, Side: models.SideBid, Timestamp: at},
	}, nil
}

func (s *Stream) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Read streams ticks until the connection fails or ctx ends. The tick channel
// drops on backpressure.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)
	conn := s.currentConn()

	go s.pingLoop(ctx, conn)

	go func() {
		defer close(ticks)
		defer close(errs)
		if conn == nil {
			errs <- errors.New("binance conn nil")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				s.mu.Lock()
				if s.conn == conn {
					s.connected = false
				}
				s.mu.Unlock()
				errs <- fmt.Errorf("binance read: %w", err)
				return
			}
			out, err := parseBookTicker(b, s.now().UTC())
			if err != nil {
				s.l.Debug("skipping frame", applogger.Error(err))
				continue
			}
			for _, t := range out {
				select {
				case ticks <- t:
				default:
				}
			}
		}
	}()

	return ticks, errs
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.conn == conn && s.connected
			var err error
			if current {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PingInterval))
			}
			s.mu.Unlock()
			if !current {
				return
			}
			if err != nil {
				s.l.Warn("ping failed", applogger.Error(err))
			}
		}
	}
}

// Reconnect closes the current connection, waits the reconnect delay and
// dials again with the same subscriptions.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.ReconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
