package engine

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/metrics"
	"surgetrader/src/model"
)

// ProcessSignals expires, re-prices and triggers pending signals in stored order. The
// position limit is enforced incrementally within the pass; signals blocked by it are
// still re-priced.
func (e *Engine) ProcessSignals(ctx context.Context) error {
	if len(e.state.PendingSignals) == 0 {
		return nil
	}

	now := e.now().UTC()
	openCount := len(e.state.Positions)
	sizer := &balanceSizer{engine: e}

	kept := make([]*model.PendingSignal, 0, len(e.state.PendingSignals))
	for _, sig := range e.state.PendingSignals {
		log := logger.WithFields(logger.Fields{"phase": phaseSignals, "symbol": sig.Symbol})

		if sig.Expired(now) {
			metrics.IncSignal("expired")
			log.WithField("timeout", sig.TimeoutTime).Info("pending signal expired")
			continue
		}
		if _, open := e.state.Positions[sig.Symbol]; open {
			continue
		}

		callCtx, cancel := e.callCtx(ctx)
		price, err := e.deps.Exchange.GetPrice(callCtx, sig.Symbol)
		cancel()
		if err != nil {
			log.WithError(err).Warn("price fetch failed, signal kept")
			kept = append(kept, sig)
			continue
		}

		sig.LastSeenPrice = price
		sig.LastSeenDistancePct = (price - sig.TargetEntryPrice) / price

		if openCount >= e.params.MaxPositions || price > sig.TargetEntryPrice {
			kept = append(kept, sig)
			continue
		}

		pos, err := e.openFromSignal(ctx, sig, price, sizer)
		if err != nil {
			log.WithError(err).Error("entry failed, signal kept")
			e.capture(ctx, phaseSignals, "openFromSignal", err, map[string]interface{}{"symbol": sig.Symbol})
			kept = append(kept, sig)
			continue
		}

		e.state.Positions[pos.Symbol] = pos
		openCount++
		metrics.IncSignal("triggered")
		if err := e.deps.Events.PositionOpened(ctx, pos); err != nil {
			log.WithError(err).Warn("position event not published")
		}
	}
	e.state.PendingSignals = kept

	return e.commit(ctx)
}

// balanceSizer fetches the account balance at most once per pass.
type balanceSizer struct {
	engine  *Engine
	loaded  bool
	balance float64
}

func (s *balanceSizer) Balance(ctx context.Context) (float64, error) {
	if s.loaded {
		return s.balance, nil
	}
	e := s.engine
	if e.config.DryRun {
		s.balance = e.params.DryRunBalance
	} else {
		callCtx, cancel := e.callCtx(ctx)
		balance, err := e.deps.Exchange.GetBalance(callCtx)
		cancel()
		if err != nil {
			return 0, err
		}
		s.balance = balance
	}
	s.loaded = true
	return s.balance, nil
}

func (e *Engine) openFromSignal(ctx context.Context, sig *model.PendingSignal, price float64, sizer *balanceSizer) (*model.Position, error) {
	balance, err := sizer.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("balance for sizing: %w", err)
	}
	if balance <= 0 {
		return nil, fmt.Errorf("no available balance to size %s", sig.Symbol)
	}

	notional := balance * e.params.PositionSizeRatio * float64(e.params.Leverage)
	pos, err := e.enter(ctx, entryRequest{
		Symbol:   sig.Symbol,
		Side:     model.SideBuy,
		Type:     model.OrderTypeMarket,
		Quantity: notional / price,
		RefPrice: price,
		Leverage: e.params.Leverage,
	})
	if err != nil {
		return nil, err
	}
	pos.SignalTime = sig.SignalTime
	pos.SurgeRatio = sig.SurgeRatio
	return pos, nil
}

type entryRequest struct {
	Symbol     string
	Side       string
	Type       string
	Quantity   float64
	LimitPrice float64
	RefPrice   float64
	Leverage   int
}

// enter opens a position. In live mode leverage and margin mode are set first and the
// fill overrides the estimated price and quantity. Nothing is returned unless filled.
func (e *Engine) enter(ctx context.Context, req entryRequest) (*model.Position, error) {
	entryPrice := req.RefPrice
	quantity := req.Quantity
	if quantity <= 0 || entryPrice <= 0 {
		return nil, fmt.Errorf("invalid entry for %s: quantity=%v price=%v", req.Symbol, quantity, entryPrice)
	}

	if !e.config.DryRun {
		ex := e.deps.Exchange

		callCtx, cancel := e.callCtx(ctx)
		err := ex.SetLeverage(callCtx, req.Symbol, req.Leverage)
		cancel()
		if err != nil {
			metrics.IncOrderFailure("leverage")
			return nil, err
		}

		callCtx, cancel = e.callCtx(ctx)
		err = ex.SetMarginMode(callCtx, req.Symbol, e.params.MarginMode)
		cancel()
		if err != nil {
			metrics.IncOrderFailure("margin")
			return nil, err
		}

		callCtx, cancel = e.callCtx(ctx)
		res, err := ex.PlaceOrder(callCtx, model.OrderRequest{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Type:     req.Type,
			Quantity: quantity,
			Price:    req.LimitPrice,
		})
		cancel()
		if err != nil {
			metrics.IncOrderFailure("open")
			return nil, err
		}
		if req.Type == model.OrderTypeLimit && res.ExecutedQty <= 0 {
			logger.WithFields(logger.Fields{
				"symbol":  req.Symbol,
				"orderId": res.OrderID,
			}).Warn("limit order rests unfilled and is not tracked")
			return nil, &model.OrderError{Symbol: req.Symbol, Msg: "limit order not filled"}
		}
		if res.AvgPrice > 0 {
			entryPrice = res.AvgPrice
		}
		if res.ExecutedQty > 0 {
			quantity = res.ExecutedQty
		}
	}

	metrics.IncOrder(e.config.DryRun, req.Side)
	now := e.now().UTC()
	pos := &model.Position{
		Symbol:            req.Symbol,
		Side:              req.Side,
		EntryTime:         now,
		EntryPrice:        entryPrice,
		Quantity:          quantity,
		VirtualEntryPrice: entryPrice,
		CurrentPrice:      entryPrice,
	}

	logger.WithFields(logger.Fields{
		"symbol":   pos.Symbol,
		"side":     pos.Side,
		"price":    pos.EntryPrice,
		"quantity": pos.Quantity,
		"dryRun":   e.config.DryRun,
	}).Info("position opened")
	return pos, nil
}
