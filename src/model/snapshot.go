package model

import "time"

// Snapshot is the whole persisted document shared with the dashboard.
type Snapshot struct {
	Positions       map[string]*Position `json:"positions"`
	PendingSignals  []*PendingSignal     `json:"pending_signals"`
	History         []HistoryEntry       `json:"history"`
	Balance         float64              `json:"balance"`
	UpdatedAt       time.Time            `json:"updated_at"`
	LastHeartbeat   time.Time            `json:"last_heartbeat"`
	IsDryRun        bool                 `json:"is_dry_run"`
	PendingCommands []Command            `json:"pending_commands"`
}

// NewSnapshot returns an empty document with non-nil collections.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Positions:       map[string]*Position{},
		PendingSignals:  []*PendingSignal{},
		History:         []HistoryEntry{},
		PendingCommands: []Command{},
	}
}

// Normalize replaces nil collections so that JSON consumers always see arrays and objects.
func (s *Snapshot) Normalize() {
	if s.Positions == nil {
		s.Positions = map[string]*Position{}
	}
	if s.PendingSignals == nil {
		s.PendingSignals = []*PendingSignal{}
	}
	if s.History == nil {
		s.History = []HistoryEntry{}
	}
	if s.PendingCommands == nil {
		s.PendingCommands = []Command{}
	}
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Positions:       make(map[string]*Position, len(s.Positions)),
		PendingSignals:  make([]*PendingSignal, 0, len(s.PendingSignals)),
		History:         append([]HistoryEntry{}, s.History...),
		Balance:         s.Balance,
		UpdatedAt:       s.UpdatedAt,
		LastHeartbeat:   s.LastHeartbeat,
		IsDryRun:        s.IsDryRun,
		PendingCommands: append([]Command{}, s.PendingCommands...),
	}
	for k, p := range s.Positions {
		cp := *p
		out.Positions[k] = &cp
	}
	for _, sig := range s.PendingSignals {
		cp := *sig
		out.PendingSignals = append(out.PendingSignals, &cp)
	}
	return out
}
