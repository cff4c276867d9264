package model

import "time"

// Candle is one normalized kline, oldest first in any slice returned by a connector.
type Candle struct {
	OpenTime        time.Time
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          float64
	CloseTime       time.Time
	QuoteVolume     float64
	TradeCount      int64
	ActiveBuyVolume float64
}

// OrderRequest is the exchange-neutral order the engine submits.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	Price         float64
	ReduceOnly    bool
	ClosePosition bool
}

// OrderResult is the normalized fill information of a submitted order.
// Zero values mean the exchange did not report them.
type OrderResult struct {
	OrderID     string
	Status      string
	AvgPrice    float64
	ExecutedQty float64
}
