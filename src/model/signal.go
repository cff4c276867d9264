package model

import "time"

// PendingSignal is a detected surge waiting for its pullback entry.
type PendingSignal struct {
	Symbol              string    `json:"symbol"`
	SignalTime          time.Time `json:"signal_time"`
	SignalClose         float64   `json:"signal_close"`
	SurgeRatio          float64   `json:"surge_ratio"`
	TargetEntryPrice    float64   `json:"target_entry_price"`
	RequiredPullbackPct float64   `json:"required_pullback_pct"`
	TimeoutTime         time.Time `json:"timeout_time"`
	CreatedAt           time.Time `json:"created_at"`
	LastSeenPrice       float64   `json:"last_seen_price,omitempty"`
	LastSeenDistancePct float64   `json:"last_seen_distance_pct,omitempty"`
}

// Expired reports whether the signal's waiting window has elapsed at now.
func (s *PendingSignal) Expired(now time.Time) bool {
	return now.After(s.TimeoutTime)
}
