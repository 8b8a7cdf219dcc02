package repository

import (
	"context"

	"Trape/internal/domain/models"
)

// MarketStream delivers book ticks. Reconnect must not require a new Subscribe
// from the caller; Read is called again after a successful Reconnect.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordTick(source, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordRecommendation(symbol string, action models.Action, indicator float64)
	RecordOrder(symbol string, side models.OrderSide, status models.OrderStatus)
	RecordAgentFault(symbol string)
}
