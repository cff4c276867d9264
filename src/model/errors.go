package model

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientFetch marks price, candle and balance fetch failures that are retried
	// naturally on the next tick.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrConfiguration marks invalid or missing configuration; fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataIntegrity marks a corrupt or unreadable persisted snapshot.
	ErrDataIntegrity = errors.New("data integrity error")
)

// OrderError is returned when the exchange rejects an order or a margin/leverage change.
type OrderError struct {
	Symbol string
	Code   int
	Msg    string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order rejected for %s: code=%d msg=%s", e.Symbol, e.Code, e.Msg)
}
