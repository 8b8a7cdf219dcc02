package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideAsk Side = "ask"
	SideBid Side = "bid"
)

// Tick is a single price observation for one side of the book.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// NoPrice is returned by price queries for symbols without data.
const NoPrice = 0.0

type CurrentPrice struct {
	Symbol  string    `json:"symbol"`
	Ask     float64   `json:"ask"`
	Bid     float64   `json:"bid"`
	AskTime time.Time `json:"ask_time"`
	BidTime time.Time `json:"bid_time"`
}

// SymbolInfo is static exchange metadata for a traded pair.
type SymbolInfo struct {
	Symbol      string          `json:"symbol"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	TickSize    decimal.Decimal `json:"tick_size"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// RoundQuantity floors qty to the lot step.
func (s SymbolInfo) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	return floorToStep(qty, s.StepSize)
}

// RoundPrice floors price to the tick size.
func (s SymbolInfo) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return floorToStep(price, s.TickSize)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Fee holds maker/taker commission rates as fractions (0.001 = 0.1%).
type Fee struct {
	Symbol string          `json:"symbol"`
	Maker  decimal.Decimal `json:"maker"`
	Taker  decimal.Decimal `json:"taker"`
}
