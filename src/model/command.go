package model

import "time"

const (
	CommandActionOpen  = "OPEN"
	CommandActionClose = "CLOSE"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Command is an operator instruction appended by the dashboard and drained by the engine.
type Command struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side,omitempty"`
	Type      string    `json:"type,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Quantity  float64   `json:"quantity,omitempty"`
	Leverage  int       `json:"leverage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
