package service

import (
	"context"

	"Trape/internal/domain/models"

	"github.com/shopspring/decimal"
)

// MarketView is the read side of the Buffer used by the decision and trading layers.
type MarketView interface {
	Snapshot(symbol string) (models.SymbolSnapshot, bool)
	GetSymbols() []string
	GetAskPrice(symbol string) float64
	GetBidPrice(symbol string) float64
	GetSymbolInfoFor(symbol string) (models.SymbolInfo, bool)
}

type Accountant interface {
	// GetBalance returns the free/locked amounts for asset; zero when unknown.
	GetBalance(ctx context.Context, asset string) (models.Balance, error)
	// Refresh reloads every balance from the exchange.
	Refresh(ctx context.Context) error
}

type FeeWatchdog interface {
	GetFee(symbol string) models.Fee
}

// RecommendationSink receives recommendations for one symbol. Deliver never blocks.
type RecommendationSink interface {
	Symbol() string
	Deliver(rec models.Recommendation)
}

type RecommendationSource interface {
	Register(sink RecommendationSink)
	Deregister(sink RecommendationSink)
}

// Reservations tracks open orders whose outcome is not yet terminal.
type Reservations interface {
	Reserve(o models.OpenOrder) error
	Release(orderID string) bool
	ForSymbol(symbol string) []models.OpenOrder
	ReservedQuantity(symbol string, side models.OrderSide) decimal.Decimal
}
