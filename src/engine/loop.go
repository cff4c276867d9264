package engine

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/metrics"
)

const (
	phaseCommands  = "commands"
	phaseScan      = "scan"
	phaseSignals   = "signals"
	phaseMonitor   = "monitor"
	phaseHeartbeat = "heartbeat"
)

func (e *Engine) loop(ctx context.Context) {
	e.runDone = ctx.Done()

	ticker := time.NewTicker(e.config.LoopPeriod)
	defer ticker.Stop()

	logger.WithField("period", e.config.LoopPeriod).Info("engine loop started")
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("engine loop stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one cycle. Phases get a context detached from ctx so that a stop lets the
// running phase finish; the stop is honoured between phases.
func (e *Engine) tick(ctx context.Context) {
	phaseCtx := context.WithoutCancel(ctx)
	now := e.now().UTC()
	logger.WithField("time", now).Debug("loop tick")

	e.runPhase(phaseCtx, phaseCommands, e.DrainCommands)
	if e.interrupted(ctx) {
		return
	}

	if e.shouldScan(now) {
		// the cursor only moves on a completed scan; a failed one is retried next tick
		if e.runPhase(phaseCtx, phaseScan, e.scanMarket) {
			e.scanned = true
			e.lastScan = now.Truncate(time.Hour)
		}
		if e.interrupted(ctx) {
			return
		}
	}

	e.runPhase(phaseCtx, phaseSignals, e.ProcessSignals)
	if e.interrupted(ctx) {
		return
	}

	e.runPhase(phaseCtx, phaseMonitor, e.MonitorPositions)
	if e.interrupted(ctx) {
		return
	}

	e.runPhase(phaseCtx, phaseHeartbeat, e.heartbeat)
}

// shouldScan is true until a scan has completed, then once per hour at the trigger minute.
func (e *Engine) shouldScan(now time.Time) bool {
	if !e.scanned {
		return true
	}
	return now.Minute() == e.params.ScanTriggerMinute && !now.Truncate(time.Hour).Equal(e.lastScan)
}

// runPhase isolates one phase: errors and panics are captured and counted, never propagated.
// It reports whether the phase completed without error.
func (e *Engine) runPhase(ctx context.Context, name string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in %s phase: %v", name, r)
			metrics.IncPhaseFailure(name)
			e.capture(ctx, name, "runPhase", err, nil)
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		metrics.IncPhaseFailure(name)
		e.capture(ctx, name, "runPhase", err, nil)
		return false
	}
	return true
}

// heartbeat stamps the tick and refreshes the balance.
func (e *Engine) heartbeat(ctx context.Context) error {
	if e.config.DryRun {
		e.state.Balance = e.params.DryRunBalance
	} else {
		callCtx, cancel := e.callCtx(ctx)
		balance, err := e.deps.Exchange.GetBalance(callCtx)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("balance refresh failed")
		} else {
			e.state.Balance = balance
		}
	}
	e.state.LastHeartbeat = e.now().UTC()
	return e.commit(ctx)
}
