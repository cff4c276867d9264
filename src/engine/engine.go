package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"surgetrader/src/controller"
	"surgetrader/src/events"
	"surgetrader/src/metrics"
	"surgetrader/src/model"
	"surgetrader/src/storage"
	"surgetrader/src/strategy"
)

// Exchange is the market and order surface the engine trades through.
type Exchange interface {
	ListTradableSymbols(ctx context.Context, pattern, status string) ([]string, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetTopLongShortRatio(ctx context.Context, symbol, period string) (float64, error)
	GetBalance(ctx context.Context) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol, mode string) error
	PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error)
}

// TradeJournal receives every closed trade.
type TradeJournal interface {
	Create(ctx context.Context, entry *model.HistoryEntry) error
}

// Deps are the collaborators of an Engine. Journal, Exceptions and Events are optional.
type Deps struct {
	Exchange    Exchange
	Store       *storage.StateStore
	Journal     TradeJournal
	Exceptions  controller.ExceptionSink
	Events      events.Publisher
	ServiceName string
}

// Engine owns the trading state. Only the loop goroutine mutates it; other goroutines
// read the snapshot published after every commit.
type Engine struct {
	config  Config
	params  strategy.Params
	deps    Deps
	service string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	state       *model.Snapshot
	initialized bool
	scanned     bool
	lastScan    time.Time

	snapshot atomic.Pointer[model.Snapshot]
	// runDone belongs to the loop goroutine: set by loop before the first tick, read by interrupted.
	runDone  <-chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(config Config, params strategy.Params, deps Deps) (*Engine, error) {
	if deps.Exchange == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: engine needs an exchange and a state store", model.ErrConfiguration)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	if config.LoopPeriod <= 0 {
		config.LoopPeriod = time.Minute
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 20 * time.Second
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	service := deps.ServiceName
	if service == "" {
		service = "surgetrader"
	}

	e := &Engine{
		config:  config,
		params:  params,
		deps:    deps,
		service: service,
		now:     time.Now,
		sleep:   sleepCtx,
		state:   model.NewSnapshot(),
	}
	e.state.IsDryRun = config.DryRun
	e.publish()
	return e, nil
}

// Init loads the persisted state. A corrupt document is captured and replaced by an
// empty state instead of failing.
func (e *Engine) Init(ctx context.Context) error {
	snap, err := e.deps.Store.Load(ctx)
	if err != nil && !errors.Is(err, model.ErrDataIntegrity) {
		return err
	}
	if err != nil {
		controller.Capture(ctx, e.deps.Exceptions, e.service, "state", "Init", "error", err, nil)
	}

	snap.PendingCommands = nil
	snap.IsDryRun = e.config.DryRun
	e.state = snap
	e.dropShadowedSignals()
	e.initialized = true
	e.publish()

	logger.WithFields(logger.Fields{
		"dryRun":         e.config.DryRun,
		"positions":      len(e.state.Positions),
		"pendingSignals": len(e.state.PendingSignals),
	}).Info("engine initialized")
	return nil
}

// Snapshot returns the last published state. Callers must treat it as read-only.
func (e *Engine) Snapshot() *model.Snapshot {
	return e.snapshot.Load()
}

// Run initializes if needed and blocks running the loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if !e.initialized {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}
	e.loop(ctx)
	return nil
}

// Start runs the loop in a background goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return errors.New("engine already started")
	}
	if !e.initialized {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		e.loop(runCtx)
	}(e.done)
	return nil
}

// Stop signals the loop and waits for the current phase to finish, up to StopTimeout.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		logger.Info("engine stopped")
		return nil
	case <-time.After(e.config.StopTimeout):
		return fmt.Errorf("engine did not stop within %s", e.config.StopTimeout)
	}
}

// dropShadowedSignals removes pending signals of symbols that already hold a position.
func (e *Engine) dropShadowedSignals() {
	kept := e.state.PendingSignals[:0]
	for _, sig := range e.state.PendingSignals {
		if _, open := e.state.Positions[sig.Symbol]; open {
			logger.WithField("symbol", sig.Symbol).Warn("dropping pending signal of open position")
			continue
		}
		kept = append(kept, sig)
	}
	e.state.PendingSignals = kept
}

func (e *Engine) commit(ctx context.Context) error {
	e.state.UpdatedAt = e.now().UTC()

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	err := e.deps.Store.Commit(callCtx, e.state)
	e.publish()
	if err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

func (e *Engine) publish() {
	snap := e.state.Clone()
	snap.PendingCommands = e.deps.Store.PendingCommands()
	e.snapshot.Store(snap)

	var heartbeat int64
	if !snap.LastHeartbeat.IsZero() {
		heartbeat = snap.LastHeartbeat.Unix()
	}
	metrics.SetState(len(snap.Positions), len(snap.PendingSignals), snap.Balance, heartbeat)
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.CallTimeout)
}

// interrupted reports whether ctx is done or the running loop was asked to stop.
func (e *Engine) interrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-e.runDone:
		return true
	default:
		return false
	}
}

func (e *Engine) capture(ctx context.Context, module, method string, err error, data map[string]interface{}) {
	controller.Capture(ctx, e.deps.Exceptions, e.service, module, method, "error", err, data)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
