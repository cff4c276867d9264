package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/metrics"
	"surgetrader/src/model"
	"surgetrader/src/strategy"
)

// MonitorPositions re-prices every open position and applies the exit policy.
func (e *Engine) MonitorPositions(ctx context.Context) error {
	if len(e.state.Positions) == 0 {
		return nil
	}

	now := e.now().UTC()
	for _, symbol := range slices.Sorted(maps.Keys(e.state.Positions)) {
		pos := e.state.Positions[symbol]
		log := logger.WithFields(logger.Fields{"phase": phaseMonitor, "symbol": symbol})

		callCtx, cancel := e.callCtx(ctx)
		price, err := e.deps.Exchange.GetPrice(callCtx, symbol)
		cancel()
		if err != nil {
			log.WithError(err).Warn("price fetch failed, position skipped")
			continue
		}

		pos.CurrentPrice = price
		strategy.UpdateExtrema(pos, price, now)
		d := e.params.Evaluate(pos, price, now)

		switch d.Action {
		case strategy.ActionAverage:
			log.WithFields(logger.Fields{
				"pnl":             d.PnlPct,
				"oldVirtualEntry": pos.VirtualEntryPrice,
				"newVirtualEntry": d.NewVirtualEntry,
			}).Info("virtual add")
			pos.VirtualEntryPrice = d.NewVirtualEntry
			pos.IsVirtualAdded = true
		case strategy.ActionClose:
			if err := e.closePosition(ctx, pos, d.Reason, price, now); err != nil {
				log.WithError(err).Error("close failed, position kept")
				e.capture(ctx, phaseMonitor, "closePosition", err, map[string]interface{}{
					"symbol": symbol,
					"reason": d.Reason,
				})
			}
		default:
			log.WithFields(logger.Fields{
				"price":      price,
				"pnl":        d.PnlPct,
				"takeProfit": d.TakeProfit,
				"holdHours":  d.HoldHours,
			}).Debug("position held")
		}
	}

	return e.commit(ctx)
}

// closePosition moves pos to history. In live mode the whole position is closed on the
// exchange first; a failed close leaves pos open.
func (e *Engine) closePosition(ctx context.Context, pos *model.Position, reason string, price float64, now time.Time) error {
	exitPrice := price
	if !e.config.DryRun {
		callCtx, cancel := e.callCtx(ctx)
		res, err := e.deps.Exchange.PlaceOrder(callCtx, model.OrderRequest{
			Symbol:        pos.Symbol,
			ClosePosition: true,
		})
		cancel()
		if err != nil {
			metrics.IncOrderFailure("close")
			return fmt.Errorf("close %s: %w", pos.Symbol, err)
		}
		if res.AvgPrice > 0 {
			exitPrice = res.AvgPrice
		}
	}

	entry := model.HistoryEntry{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Reason:     reason,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  pos.EntryTime,
		ExitTime:   now,
		PnlPct:     pos.MoveFrom(pos.EntryPrice, exitPrice),
		Quantity:   pos.Quantity,
		DryRun:     e.config.DryRun,
	}
	e.state.History = model.PrependHistory(e.state.History, entry)
	delete(e.state.Positions, pos.Symbol)

	metrics.IncExit(reason)
	logger.WithFields(logger.Fields{
		"symbol":    entry.Symbol,
		"reason":    reason,
		"entry":     entry.EntryPrice,
		"exit":      entry.ExitPrice,
		"pnl":       entry.PnlPct,
		"holdHours": pos.HoldHours(now),
	}).Info("position closed")

	if e.deps.Journal != nil {
		rec := entry
		callCtx, cancel := e.callCtx(ctx)
		if err := e.deps.Journal.Create(callCtx, &rec); err != nil {
			logger.WithField("symbol", entry.Symbol).WithError(err).Warn("trade not journaled")
		}
		cancel()
	}
	if err := e.deps.Events.PositionClosed(ctx, entry); err != nil {
		logger.WithField("symbol", entry.Symbol).WithError(err).Warn("close event not published")
	}
	return nil
}
