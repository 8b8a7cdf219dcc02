package repository

import (
	"context"

	"Trape/internal/domain/models"
)

// OrderClient submits and queries orders. A non-nil error means the outcome
// is unknown (transport failure); a business rejection is a response with
// Success false.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error)
	// QueryOrder returns models.ErrOrderNotFound when the exchange has no
	// record of the client order id.
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (*models.PlacedOrder, error)
}

type AccountClient interface {
	Balances(ctx context.Context) ([]models.Balance, error)
}

type ExchangeInfoClient interface {
	SymbolInfo(ctx context.Context, symbols []string) ([]models.SymbolInfo, error)
}

type FeeClient interface {
	TradeFees(ctx context.Context, symbols []string) ([]models.Fee, error)
}
