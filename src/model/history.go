package model

import "time"

// HistoryCap bounds the closed-trade list kept in the snapshot.
const HistoryCap = 100

// HistoryEntry is an immutable closed-trade record. The same row is appended to the
// trade journal table when a database is configured.
type HistoryEntry struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Symbol     string    `gorm:"size:50;index" json:"symbol"`
	Side       string    `gorm:"size:10" json:"side"`
	Reason     string    `gorm:"size:100;index" json:"reason"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnlPct     float64   `json:"pnl_pct"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `gorm:"index" json:"exit_time"`
	Quantity   float64   `json:"quantity"`
	DryRun     bool      `json:"-"`
}

func (HistoryEntry) TableName() string {
	return "trade_history"
}

// PrependHistory inserts entry at the front and trims the list to HistoryCap.
func PrependHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, min(len(history)+1, HistoryCap))
	out = append(out, entry)
	for _, h := range history {
		if len(out) == HistoryCap {
			break
		}
		out = append(out, h)
	}
	return out
}
