package strategy

import (
	"fmt"
	"time"

	"surgetrader/src/model"
)

// Action is the outcome of evaluating an open position on one tick.
type Action int

const (
	ActionHold Action = iota
	ActionClose
	ActionAverage
)

func (a Action) String() string {
	switch a {
	case ActionClose:
		return "close"
	case ActionAverage:
		return "average"
	default:
		return "hold"
	}
}

const (
	ReasonStopLoss    = "stop_loss"
	ReasonManualClose = "manual_close"
)

// Decision carries what the position manager must do and why.
type Decision struct {
	Action          Action
	Reason          string
	PnlPct          float64
	TakeProfit      float64
	HoldHours       float64
	NewVirtualEntry float64
}

// Lookup returns the value of the first bucket whose bound lies above x.
// Inputs beyond the last bound fall into the last bucket.
func Lookup(table []Bucket, x float64) float64 {
	for _, b := range table {
		if x < b.Below {
			return b.Value
		}
	}
	return table[len(table)-1].Value
}

// PullbackFor returns the required (negative) pullback for a surge ratio.
func (p Params) PullbackFor(ratio float64) float64 {
	return Lookup(p.PullbackTable, ratio)
}

// InSurgeBand reports whether ratio lies in the inclusive detection band.
func (p Params) InSurgeBand(ratio float64) bool {
	return ratio >= p.SurgeLow && ratio <= p.SurgeHigh
}

// SurgeResult is the buy-volume comparison between the last closed candle and the
// trailing window before it.
type SurgeResult struct {
	LastClosed   model.Candle
	AvgBuyVolume float64
	Ratio        float64
}

// ErrZeroAverage is returned when the trailing window has no aggressive-buy volume.
var ErrZeroAverage = fmt.Errorf("average buy volume is zero")

// ComputeSurge uses the second-to-last candle as the last fully closed one, because the
// final candle of the series is still forming.
func (p Params) ComputeSurge(candles []model.Candle) (SurgeResult, error) {
	if len(candles) < p.MinCandles || len(candles) < 2 {
		return SurgeResult{}, fmt.Errorf("need %d candles, got %d", p.MinCandles, len(candles))
	}

	closedIdx := len(candles) - 2
	start := closedIdx - p.AverageWindow
	if start < 0 {
		start = 0
	}
	window := candles[start:closedIdx]
	if len(window) == 0 {
		return SurgeResult{}, fmt.Errorf("empty averaging window")
	}

	sum := 0.0
	for _, c := range window {
		sum += c.ActiveBuyVolume
	}
	avg := sum / float64(len(window))
	if avg == 0 {
		return SurgeResult{}, ErrZeroAverage
	}

	last := candles[closedIdx]
	return SurgeResult{
		LastClosed:   last,
		AvgBuyVolume: avg,
		Ratio:        last.ActiveBuyVolume / avg,
	}, nil
}

// UpdateExtrema folds the current gain into the rolling maxima. Each maximum is
// frozen once its window has elapsed.
func UpdateExtrema(pos *model.Position, price float64, now time.Time) {
	hold := pos.HoldHours(now)
	up := pos.MoveFrom(pos.EntryPrice, price)
	if hold <= 12 && up > pos.MaxUp12h {
		pos.MaxUp12h = up
	}
	if hold <= 24 && up > pos.MaxUp24h {
		pos.MaxUp24h = up
	}
}

// DynamicTakeProfit applies the downgrade rules in order; a later matching rule wins.
func (p Params) DynamicTakeProfit(pos *model.Position, holdHours float64) float64 {
	tp := p.TakeProfitPct
	for _, r := range p.TakeProfitRules {
		maxUp := pos.MaxUp12h
		if r.Window == Window24h {
			maxUp = pos.MaxUp24h
		}
		if holdHours >= r.AfterHours && maxUp < r.MinMaxUp {
			tp = r.Target
		}
	}
	return tp
}

// TakeProfitReason formats the close reason for a dynamic take-profit exit.
func TakeProfitReason(tp float64) string {
	return fmt.Sprintf("take_profit_dynamic_%.0f%%", tp*100)
}

// Evaluate decides the exit for pos at price. Extrema must already be updated.
// The averaging rule is checked before the stop-loss so that a drawdown hitting both
// thresholds reprices the cost basis instead of realizing the loss.
func (p Params) Evaluate(pos *model.Position, price float64, now time.Time) Decision {
	hold := pos.HoldHours(now)
	pnl := pos.MoveFrom(pos.VirtualEntryPrice, price)
	tp := p.DynamicTakeProfit(pos, hold)

	d := Decision{Action: ActionHold, PnlPct: pnl, TakeProfit: tp, HoldHours: hold}

	switch {
	case pnl >= tp:
		d.Action = ActionClose
		d.Reason = TakeProfitReason(tp)
	case p.EnableVirtualAdd && !pos.IsVirtualAdded && pnl <= p.AddTriggerPct:
		d.Action = ActionAverage
		d.NewVirtualEntry = (pos.VirtualEntryPrice + price) / 2
	case pnl <= p.StopLossPct:
		d.Action = ActionClose
		d.Reason = ReasonStopLoss
	case hold >= p.MaxHoldHours:
		d.Action = ActionClose
		d.Reason = fmt.Sprintf("timeout_%.0fh", p.MaxHoldHours)
	case p.EnableWeakExit && hold >= p.WeakExitAfterHrs && pos.MaxUp24h < p.WeakExitThreshold:
		d.Action = ActionClose
		d.Reason = fmt.Sprintf("weak_trend_%.0fh", p.WeakExitAfterHrs)
	}
	return d
}
