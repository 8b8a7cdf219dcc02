package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

type OrderStatus string

const (
	// OrderStatusPending marks a client order persisted before the exchange
	// acknowledged it. Never reported by the exchange.
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further fills can happen.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderRequest is what the exchange client submits. Market orders carry no
// price and no time in force.
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TimeInForce   TimeInForce     `json:"time_in_force,omitempty"`
}

func (r OrderRequest) Validate() error {
	if r.ClientOrderID == "" {
		return fmt.Errorf("client order id is required")
	}
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.Quantity.Sign() <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if r.Type == OrderTypeLimit {
		if r.Price.Sign() <= 0 {
			return fmt.Errorf("limit order requires price")
		}
		if r.TimeInForce == "" {
			return fmt.Errorf("limit order requires time in force")
		}
	}
	return nil
}

// ClientOrder is the logical order as requested by this process.
type ClientOrder struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TimeInForce TimeInForce     `json:"time_in_force,omitempty"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func NewClientOrder(req OrderRequest, now time.Time) ClientOrder {
	return ClientOrder{
		ID:          req.ClientOrderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Price:       req.Price,
		TimeInForce: req.TimeInForce,
		Status:      OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// PlacedOrder is the exchange's authoritative view of an order.
type PlacedOrder struct {
	ClientOrderID           string          `json:"client_order_id"`
	OrderID                 int64           `json:"order_id"`
	OrderListID             int64           `json:"order_list_id"`
	OriginalClientOrderID   string          `json:"original_client_order_id,omitempty"`
	Symbol                  string          `json:"symbol"`
	Side                    OrderSide       `json:"side"`
	Type                    OrderType       `json:"type"`
	TimeInForce             TimeInForce     `json:"time_in_force,omitempty"`
	Status                  OrderStatus     `json:"status"`
	Price                   decimal.Decimal `json:"price"`
	StopPrice               decimal.Decimal `json:"stop_price"`
	OriginalQuantity        decimal.Decimal `json:"original_quantity"`
	ExecutedQuantity        decimal.Decimal `json:"executed_quantity"`
	CumulativeQuoteQuantity decimal.Decimal `json:"cumulative_quote_quantity"`
	TransactionTime         time.Time       `json:"transaction_time"`
}

// AveragePrice is the mean fill price, or the limit price when nothing filled.
func (p PlacedOrder) AveragePrice() decimal.Decimal {
	if p.ExecutedQuantity.Sign() > 0 {
		return p.CumulativeQuoteQuantity.Div(p.ExecutedQuantity)
	}
	return p.Price
}

// OpenOrder reserves inventory while an order's outcome is unknown.
type OpenOrder struct {
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

type ExchangeError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Payload string `json:"payload,omitempty"`
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// OrderResponse mirrors the exchange reply: Data on success, Error otherwise.
type OrderResponse struct {
	Success    bool           `json:"success"`
	HTTPStatus int            `json:"http_status"`
	Data       *PlacedOrder   `json:"data,omitempty"`
	Error      *ExchangeError `json:"error,omitempty"`
}
