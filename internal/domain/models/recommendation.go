package models

import (
	"fmt"
	"time"
)

type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
	ActionWait Action = "Wait"
)

// Recommendation is the decision pass output for one symbol. Never mutated
// after creation.
type Recommendation struct {
	Symbol    string    `json:"symbol"`
	Action    Action    `json:"action"`
	Indicator float64   `json:"indicator"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// DecisionLabel is the persisted decision string, e.g. "Buy-0.1250".
func (r Recommendation) DecisionLabel() string {
	return fmt.Sprintf("%s-%.4f", r.Action, r.Indicator)
}
