package repository

import (
	"testing"
	"time"

	"Trape/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderRowsPreserveEveryColumn(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	co := models.ClientOrder{
		ID:          "c-1",
		Symbol:      "BTCUSDT",
		Side:        models.OrderSideSell,
		Type:        models.OrderTypeLimit,
		Quantity:    decimal.RequireFromString("0.015"),
		Price:       decimal.RequireFromString("64000.5"),
		TimeInForce: models.TimeInForceGTC,
		Status:      models.OrderStatusPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	assert.Equal(t, co, clientOrderToRow(co).model())

	po := models.PlacedOrder{
		ClientOrderID:           "c-1",
		OrderID:                 123456,
		OrderListID:             -1,
		OriginalClientOrderID:   "c-0",
		Symbol:                  "BTCUSDT",
		Side:                    models.OrderSideSell,
		Type:                    models.OrderTypeLimit,
		TimeInForce:             models.TimeInForceGTC,
		Status:                  models.OrderStatusPartiallyFilled,
		Price:                   decimal.RequireFromString("64000.5"),
		StopPrice:               decimal.Zero,
		OriginalQuantity:        decimal.RequireFromString("0.015"),
		ExecutedQuantity:        decimal.RequireFromString("0.005"),
		CumulativeQuoteQuantity: decimal.RequireFromString("320.0025"),
		TransactionTime:         at,
	}
	assert.Equal(t, po, placedOrderToRow(po).model())
	assert.Equal(t, "placed_orders", PlacedOrderRow{}.TableName())
	assert.Equal(t, "client_orders", ClientOrderRow{}.TableName())
}
