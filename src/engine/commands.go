package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/controller"
	"surgetrader/src/metrics"
	"surgetrader/src/model"
	"surgetrader/src/strategy"
)

// PrepareCommand normalizes an operator command and rejects malformed ones.
func PrepareCommand(cmd model.Command) (model.Command, error) {
	cmd.Action = strings.ToUpper(strings.TrimSpace(cmd.Action))
	cmd.Symbol = controller.NormalizeToUSDT(cmd.Symbol)
	cmd.Side = strings.ToUpper(strings.TrimSpace(cmd.Side))
	cmd.Type = strings.ToUpper(strings.TrimSpace(cmd.Type))

	if cmd.Symbol == "" {
		return cmd, errors.New("symbol is required")
	}

	switch cmd.Action {
	case model.CommandActionClose:
		return cmd, nil
	case model.CommandActionOpen:
	default:
		return cmd, fmt.Errorf("unknown action %q", cmd.Action)
	}

	if cmd.Side == "" {
		cmd.Side = model.SideBuy
	}
	if cmd.Type == "" {
		cmd.Type = model.OrderTypeMarket
	}
	if cmd.Side != model.SideBuy && cmd.Side != model.SideSell {
		return cmd, fmt.Errorf("invalid side %q", cmd.Side)
	}
	if cmd.Type != model.OrderTypeMarket && cmd.Type != model.OrderTypeLimit {
		return cmd, fmt.Errorf("invalid order type %q", cmd.Type)
	}
	if cmd.Type == model.OrderTypeLimit && cmd.Price <= 0 {
		return cmd, errors.New("price is required for LIMIT orders")
	}
	if cmd.Amount < 0 || cmd.Quantity < 0 || cmd.Price < 0 || cmd.Leverage < 0 {
		return cmd, errors.New("amount, quantity, price and leverage must not be negative")
	}
	if (cmd.Amount > 0) == (cmd.Quantity > 0) {
		return cmd, errors.New("exactly one of amount or quantity is required")
	}
	return cmd, nil
}

// DrainCommands applies the commands queued when the drain starts. Each command is removed
// from the persisted queue before it is applied, so it runs at most once; a failed command
// is logged and dropped.
func (e *Engine) DrainCommands(ctx context.Context) error {
	queued := len(e.deps.Store.PendingCommands())
	for i := 0; i < queued; i++ {
		callCtx, cancel := e.callCtx(ctx)
		cmd, err := e.deps.Store.Pop(callCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("pop command: %w", err)
		}
		if cmd == nil {
			break
		}

		log := logger.WithFields(logger.Fields{
			"phase":  phaseCommands,
			"id":     cmd.ID,
			"action": cmd.Action,
			"symbol": cmd.Symbol,
		})

		if err := e.applyCommand(ctx, *cmd); err != nil {
			metrics.IncCommand(cmd.Action, "failed")
			log.WithError(err).Error("command failed")
			e.capture(ctx, phaseCommands, "applyCommand", err, map[string]interface{}{
				"symbol":    cmd.Symbol,
				"commandId": cmd.ID,
			})
			e.publish()
			continue
		}

		metrics.IncCommand(cmd.Action, "applied")
		log.Info("command applied")
		if err := e.commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyCommand(ctx context.Context, raw model.Command) error {
	cmd, err := PrepareCommand(raw)
	if err != nil {
		return err
	}
	switch cmd.Action {
	case model.CommandActionOpen:
		return e.manualOpen(ctx, cmd)
	default:
		return e.manualClose(ctx, cmd)
	}
}

func (e *Engine) manualOpen(ctx context.Context, cmd model.Command) error {
	if _, open := e.state.Positions[cmd.Symbol]; open {
		return fmt.Errorf("position already open for %s", cmd.Symbol)
	}

	leverage := cmd.Leverage
	if leverage == 0 {
		leverage = e.params.Leverage
	}

	refPrice := cmd.Price
	if cmd.Type == model.OrderTypeMarket {
		callCtx, cancel := e.callCtx(ctx)
		price, err := e.deps.Exchange.GetPrice(callCtx, cmd.Symbol)
		cancel()
		if err != nil {
			return fmt.Errorf("price for %s: %w", cmd.Symbol, err)
		}
		refPrice = price
	}

	quantity := cmd.Quantity
	if cmd.Amount > 0 {
		quantity = cmd.Amount * float64(leverage) / refPrice
	}

	pos, err := e.enter(ctx, entryRequest{
		Symbol:     cmd.Symbol,
		Side:       cmd.Side,
		Type:       cmd.Type,
		Quantity:   quantity,
		LimitPrice: cmd.Price,
		RefPrice:   refPrice,
		Leverage:   leverage,
	})
	if err != nil {
		return err
	}

	e.removeSignal(cmd.Symbol)
	e.state.Positions[pos.Symbol] = pos
	if err := e.deps.Events.PositionOpened(ctx, pos); err != nil {
		logger.WithField("symbol", pos.Symbol).WithError(err).Warn("position event not published")
	}
	return nil
}

func (e *Engine) manualClose(ctx context.Context, cmd model.Command) error {
	pos, open := e.state.Positions[cmd.Symbol]
	if !open {
		return fmt.Errorf("no open position for %s", cmd.Symbol)
	}

	callCtx, cancel := e.callCtx(ctx)
	price, err := e.deps.Exchange.GetPrice(callCtx, cmd.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("price for %s: %w", cmd.Symbol, err)
	}

	return e.closePosition(ctx, pos, strategy.ReasonManualClose, price, e.now().UTC())
}
