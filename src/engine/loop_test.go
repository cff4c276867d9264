package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgetrader/src/model"
	"surgetrader/src/storage"
	"surgetrader/src/strategy"
)

type recordingSink struct {
	mu         sync.Mutex
	exceptions []model.Exception
}

func (s *recordingSink) Create(_ context.Context, exc *model.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions = append(s.exceptions, *exc)
	return nil
}

func TestTickScanSchedule(t *testing.T) {
	h := newHarness(t, true, nil)
	h.ex.symbols = []string{"BTCUSDT"}
	h.ex.candles["BTCUSDT"] = surgeCandles(250, 100)
	ctx := context.Background()

	h.engine.tick(ctx)
	assert.Equal(t, 1, h.ex.listCalls, "first tick scans immediately")
	assert.Len(t, h.engine.state.PendingSignals, 1)

	h.clock.Set(baseTime.Add(5 * time.Minute))
	h.engine.tick(ctx)
	assert.Equal(t, 1, h.ex.listCalls)

	trigger := time.Date(2024, 5, 1, 11, 2, 0, 0, time.UTC)
	h.clock.Set(trigger)
	h.engine.tick(ctx)
	assert.Equal(t, 2, h.ex.listCalls, "scans at the trigger minute")

	h.clock.Set(trigger.Add(20 * time.Second))
	h.engine.tick(ctx)
	assert.Equal(t, 2, h.ex.listCalls, "one scan per hour")

	h.clock.Set(trigger.Add(time.Hour))
	h.engine.tick(ctx)
	assert.Equal(t, 3, h.ex.listCalls)
}

func TestTickRetriesFailedFirstScan(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, true, nil)
	h.engine.deps.Exceptions = sink
	h.ex.symbols = []string{"BTCUSDT"}
	h.ex.candles["BTCUSDT"] = surgeCandles(250, 100)
	h.ex.listErr = errFetch
	ctx := context.Background()

	h.engine.tick(ctx)
	assert.Equal(t, 1, h.ex.listCalls)
	assert.Empty(t, h.engine.state.PendingSignals)
	assert.False(t, h.engine.scanned, "a failed scan does not count as completed")

	h.clock.Set(baseTime.Add(time.Minute))
	h.engine.tick(ctx)
	assert.Equal(t, 2, h.ex.listCalls, "next tick rescans")
	assert.Len(t, h.engine.state.PendingSignals, 1)

	h.clock.Set(baseTime.Add(2 * time.Minute))
	h.engine.tick(ctx)
	assert.Equal(t, 2, h.ex.listCalls, "completed scan waits for the trigger minute")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.exceptions, 1)
	assert.Equal(t, phaseScan, sink.exceptions[0].Module)
}

func TestTickIsolatesPhaseFailures(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, true, nil)
	h.engine.deps.Exceptions = sink
	openPosition(h, "BTCUSDT", 100, baseTime.Add(-time.Hour))
	h.ex.pricePanic = true

	h.engine.tick(context.Background())

	snap := h.engine.Snapshot()
	assert.Equal(t, baseTime, snap.LastHeartbeat, "heartbeat still runs after a panicking phase")
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Contains(t, snap.Positions, "BTCUSDT")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.exceptions, 1)
	assert.Equal(t, phaseMonitor, sink.exceptions[0].Module)
	assert.Contains(t, sink.exceptions[0].Message, "price feed exploded")
}

func TestHeartbeatLiveBalance(t *testing.T) {
	h := newHarness(t, false, nil)
	h.ex.balance = 321.5

	require.NoError(t, h.engine.heartbeat(context.Background()))
	assert.Equal(t, 321.5, h.engine.Snapshot().Balance)
	assert.Equal(t, 321.5, h.reload(t).Balance)
	assert.Equal(t, baseTime, h.reload(t).LastHeartbeat)
}

func TestSnapshotIsIsolated(t *testing.T) {
	h := newHarness(t, true, nil)
	openPosition(h, "BTCUSDT", 100, baseTime)
	require.NoError(t, h.engine.commit(context.Background()))

	snap := h.engine.Snapshot()
	require.Contains(t, snap.Positions, "BTCUSDT")
	snap.Positions["BTCUSDT"].EntryPrice = 1
	delete(snap.Positions, "BTCUSDT")

	assert.Equal(t, 100.0, h.engine.state.Positions["BTCUSDT"].EntryPrice)
	assert.Contains(t, h.engine.Snapshot().Positions, "BTCUSDT")
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, true, nil)

	require.NoError(t, h.engine.Start(context.Background()))
	require.Error(t, h.engine.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return !h.engine.Snapshot().LastHeartbeat.IsZero()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Stop())
	assert.False(t, h.reload(t).LastHeartbeat.IsZero())
}

func TestInitWithCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	sink := &recordingSink{}

	e, err := New(Config{DryRun: true}, strategy.DefaultParams(), Deps{
		Exchange:   newFakeExchange(),
		Store:      storage.NewStateStore(storage.NewFileBackend(path)),
		Exceptions: sink,
	})
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background()))

	snap := e.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.PendingSignals)
	assert.True(t, snap.IsDryRun)
	require.Len(t, sink.exceptions, 1)
	assert.Equal(t, "state", sink.exceptions[0].Module)
}

func TestInitDropsSignalsOfOpenPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_state.json")
	store := storage.NewStateStore(storage.NewFileBackend(path))
	doc := model.NewSnapshot()
	doc.Positions["BTCUSDT"] = &model.Position{Symbol: "BTCUSDT", Side: model.SideBuy, EntryPrice: 1, VirtualEntryPrice: 1}
	doc.PendingSignals = []*model.PendingSignal{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}}
	require.NoError(t, store.Commit(context.Background(), doc))

	e, err := New(Config{}, strategy.DefaultParams(), Deps{
		Exchange: newFakeExchange(),
		Store:    storage.NewStateStore(storage.NewFileBackend(path)),
	})
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background()))

	snap := e.Snapshot()
	require.Len(t, snap.PendingSignals, 1)
	assert.Equal(t, "ETHUSDT", snap.PendingSignals[0].Symbol)
	assert.Contains(t, snap.Positions, "BTCUSDT")
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Config{}, strategy.DefaultParams(), Deps{})
	require.ErrorIs(t, err, model.ErrConfiguration)
}
