package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/metrics"
	"surgetrader/src/model"
	"surgetrader/src/strategy"
)

func (e *Engine) scanMarket(ctx context.Context) error {
	callCtx, cancel := e.callCtx(ctx)
	symbols, err := e.deps.Exchange.ListTradableSymbols(callCtx, e.params.SymbolPattern, e.params.SymbolStatus)
	cancel()
	if err != nil {
		return fmt.Errorf("list tradable symbols: %w", err)
	}

	_, err = e.Scan(ctx, symbols)
	return err
}

// Scan evaluates symbols against the surge rule and upserts pending signals. It returns
// the number of signals created or refreshed. Per-symbol failures are logged and skipped,
// and the pass is committed once at the end, also when it stops early on a stop request.
func (e *Engine) Scan(ctx context.Context, symbols []string) (int, error) {
	now := e.now().UTC()
	log := logger.WithFields(logger.Fields{"phase": phaseScan, "symbols": len(symbols)})
	log.Info("market scan started")

	count := 0
	for i, symbol := range symbols {
		if e.interrupted(ctx) {
			log.WithField("scanned", i).Warn("market scan interrupted")
			break
		}
		if i > 0 && e.params.ScanPauseEvery > 0 && i%e.params.ScanPauseEvery == 0 {
			e.sleep(ctx, e.params.ScanPause())
		}

		sig, err := e.evaluateSymbol(ctx, symbol, now)
		if err != nil {
			metrics.IncScanSymbol("error")
			logger.WithField("symbol", symbol).WithError(err).Warn("scan skipped symbol")
			continue
		}
		if sig == nil {
			metrics.IncScanSymbol("skip")
			continue
		}

		metrics.IncScanSymbol("signal")
		count++
		if e.upsertSignal(sig) {
			metrics.IncSignal("created")
			if err := e.deps.Events.SignalCreated(ctx, sig); err != nil {
				logger.WithField("symbol", symbol).WithError(err).Warn("signal event not published")
			}
		} else {
			metrics.IncSignal("refreshed")
		}

		logger.WithFields(logger.Fields{
			"symbol":      symbol,
			"surgeRatio":  sig.SurgeRatio,
			"signalClose": sig.SignalClose,
			"target":      sig.TargetEntryPrice,
			"pullback":    sig.RequiredPullbackPct,
		}).Info("surge signal")
	}

	metrics.IncScan()
	log.WithField("signals", count).Info("market scan finished")
	return count, e.commit(ctx)
}

// evaluateSymbol returns a fresh signal for symbol, nil when it does not qualify, or an
// error when its data could not be fetched. Panics are turned into errors.
func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, now time.Time) (sig *model.PendingSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig, err = nil, fmt.Errorf("panic evaluating %s: %v", symbol, r)
		}
	}()

	if _, open := e.state.Positions[symbol]; open {
		return nil, nil
	}

	callCtx, cancel := e.callCtx(ctx)
	candles, err := e.deps.Exchange.GetCandles(callCtx, symbol, e.params.CandleInterval, e.params.CandleLimit)
	cancel()
	if err != nil {
		return nil, err
	}

	surge, err := e.params.ComputeSurge(candles)
	if err != nil {
		if !errors.Is(err, strategy.ErrZeroAverage) {
			logger.WithField("symbol", symbol).WithError(err).Debug("not enough candles")
		}
		return nil, nil
	}
	if !e.params.InSurgeBand(surge.Ratio) {
		return nil, nil
	}
	if e.params.EnableTraderFilter && !e.passesTraderFilter(ctx, symbol) {
		return nil, nil
	}

	pullback := e.params.PullbackFor(surge.Ratio)
	closePrice := surge.LastClosed.Close
	return &model.PendingSignal{
		Symbol:              symbol,
		SignalTime:          surge.LastClosed.OpenTime.UTC(),
		SignalClose:         closePrice,
		SurgeRatio:          surge.Ratio,
		TargetEntryPrice:    closePrice * (1 + pullback),
		RequiredPullbackPct: pullback,
		TimeoutTime:         now.Add(e.params.WaitTimeout()),
		CreatedAt:           now,
	}, nil
}

// passesTraderFilter fetches the top-trader account ratio for symbol. A failed fetch lets
// the surge through.
func (e *Engine) passesTraderFilter(ctx context.Context, symbol string) bool {
	callCtx, cancel := e.callCtx(ctx)
	ratio, err := e.deps.Exchange.GetTopLongShortRatio(callCtx, symbol, e.params.TraderRatioPeriod)
	cancel()
	if err != nil {
		logger.WithField("symbol", symbol).WithError(err).Warn("long/short ratio unavailable, trader filter skipped")
		return true
	}
	if !e.params.PassesTraderFilter(ratio) {
		logger.WithFields(logger.Fields{
			"symbol":   symbol,
			"ratio":    ratio,
			"minRatio": e.params.MinAccountRatio,
		}).Info("surge dropped by trader filter")
		return false
	}
	return true
}

// upsertSignal replaces an existing signal in place, keeping its observation fields and
// creation time, or appends sig. It reports whether sig is new.
func (e *Engine) upsertSignal(sig *model.PendingSignal) bool {
	for i, existing := range e.state.PendingSignals {
		if existing.Symbol != sig.Symbol {
			continue
		}
		sig.LastSeenPrice = existing.LastSeenPrice
		sig.LastSeenDistancePct = existing.LastSeenDistancePct
		if !existing.CreatedAt.IsZero() {
			sig.CreatedAt = existing.CreatedAt
		}
		e.state.PendingSignals[i] = sig
		return false
	}
	e.state.PendingSignals = append(e.state.PendingSignals, sig)
	return true
}

func (e *Engine) removeSignal(symbol string) {
	kept := e.state.PendingSignals[:0]
	for _, sig := range e.state.PendingSignals {
		if sig.Symbol != symbol {
			kept = append(kept, sig)
		}
	}
	e.state.PendingSignals = kept
}
