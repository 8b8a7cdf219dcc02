package nats

import (
	"fmt"
	"sync/atomic"
	"time"

	applogger "Trape/pkg/logger"

	"github.com/nats-io/nats.go"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds NATS connection settings.
type ClientConfig struct {
	URL           string
	Name          string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
	Logger        *applogger.Logger
}

// WithURL sets the server URL.
func WithURL(url string) ClientOption {
	return func(c *ClientConfig) {
		c.URL = url
	}
}

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(c *ClientConfig) {
		c.Name = name
	}
}

// WithReconnect sets the wait between reconnects and their maximum count.
func WithReconnect(wait time.Duration, max int) ClientOption {
	return func(c *ClientConfig) {
		c.ReconnectWait = wait
		c.MaxReconnects = max
	}
}

func WithLogger(l *applogger.Logger) ClientOption {
	return func(c *ClientConfig) {
		c.Logger = l
	}
}

// Client is a core NATS connection that tracks its connected state.
type Client struct {
	nc        *nats.Conn
	connected atomic.Bool
	l         *applogger.Logger
}

// NewClient connects to the server. Reconnects are handled by the nats
// library.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		URL:           nats.DefaultURL,
		Name:          "trape",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 60,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}
	c := &Client{l: cfg.Logger.With(applogger.String("component", "nats"))}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.connected.Store(false)
			c.l.Warn("disconnected", applogger.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.connected.Store(true)
			c.l.Info("reconnected", applogger.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.connected.Store(false)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c.nc = nc
	c.connected.Store(true)
	c.l.Info("connected", applogger.String("url", nc.ConnectedUrl()))
	return c, nil
}

// Publish sends data to subject (fire-and-forget).
func (c *Client) Publish(subject string, data []byte) error {
	if !c.connected.Load() {
		return fmt.Errorf("nats client not connected")
	}
	return c.nc.Publish(subject, data)
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Close flushes pending messages and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Drain()
	c.connected.Store(false)
	return err
}
