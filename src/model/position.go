package model

import "time"

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position is an open exposure in one symbol, keyed by Symbol in the snapshot.
type Position struct {
	Symbol            string    `json:"symbol"`
	Side              string    `json:"side"`
	EntryTime         time.Time `json:"entry_time"`
	SignalTime        time.Time `json:"signal_time,omitempty"`
	EntryPrice        float64   `json:"entry_price"`
	Quantity          float64   `json:"quantity"`
	SurgeRatio        float64   `json:"surge_ratio,omitempty"`
	VirtualEntryPrice float64   `json:"virtual_entry_price"`
	IsVirtualAdded    bool      `json:"is_virtual_added"`
	MaxUp12h          float64   `json:"max_up_12h"`
	MaxUp24h          float64   `json:"max_up_24h"`
	CurrentPrice      float64   `json:"current_price,omitempty"`
}

// Direction is +1 for long positions and -1 for short positions.
func (p *Position) Direction() float64 {
	if p.Side == SideSell {
		return -1
	}
	return 1
}

// MoveFrom returns the signed return of price relative to ref in the position's direction.
func (p *Position) MoveFrom(ref, price float64) float64 {
	if ref == 0 {
		return 0
	}
	return p.Direction() * (price - ref) / ref
}

// HoldHours returns the fractional number of hours the position has been open at now.
func (p *Position) HoldHours(now time.Time) float64 {
	return now.Sub(p.EntryTime).Hours()
}
