package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgetrader/src/model"
	"surgetrader/src/strategy"
)

func TestScanCreatesSignal(t *testing.T) {
	h := newHarness(t, true, nil)
	h.ex.candles["BTCUSDT"] = surgeCandles(250, 100)

	count, err := h.engine.Scan(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, h.engine.state.PendingSignals, 1)
	sig := h.engine.state.PendingSignals[0]
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.InDelta(t, 2.5, sig.SurgeRatio, 1e-9)
	assert.InDelta(t, -0.07, sig.RequiredPullbackPct, 1e-9)
	assert.InDelta(t, 93.0, sig.TargetEntryPrice, 1e-9)
	assert.Equal(t, baseTime.Add(37*time.Hour), sig.TimeoutTime)
	assert.Equal(t, baseTime.Truncate(time.Hour).Add(-1*time.Hour), sig.SignalTime)

	persisted := h.reload(t)
	require.Len(t, persisted.PendingSignals, 1)
	assert.Equal(t, "BTCUSDT", persisted.PendingSignals[0].Symbol)
}

func TestScanPullbackBuckets(t *testing.T) {
	h := newHarness(t, true, func(p *strategy.Params) { p.SurgeHigh = 20 })
	cases := map[string]struct {
		buyVolume float64
		pullback  float64
	}{
		"AUSDT": {250, -0.07},
		"BUSDT": {400, -0.04},
		"CUSDT": {700, -0.03},
		"DUSDT": {1500, -0.01},
	}
	var symbols []string
	for symbol, tc := range cases {
		h.ex.candles[symbol] = surgeCandles(tc.buyVolume, 200)
		symbols = append(symbols, symbol)
	}

	count, err := h.engine.Scan(context.Background(), symbols)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	for _, sig := range h.engine.state.PendingSignals {
		tc := cases[sig.Symbol]
		assert.InDelta(t, tc.pullback, sig.RequiredPullbackPct, 1e-9, sig.Symbol)
		assert.InDelta(t, 200*(1+tc.pullback), sig.TargetEntryPrice, 1e-9, sig.Symbol)
	}
}

func TestScanBandIsInclusive(t *testing.T) {
	h := newHarness(t, true, nil)
	h.ex.candles["LOWUSDT"] = surgeCandles(220, 10)
	h.ex.candles["HIGHUSDT"] = surgeCandles(300, 10)
	h.ex.candles["BELOWUSDT"] = surgeCandles(219, 10)
	h.ex.candles["ABOVEUSDT"] = surgeCandles(301, 10)

	count, err := h.engine.Scan(context.Background(), []string{"LOWUSDT", "HIGHUSDT", "BELOWUSDT", "ABOVEUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "LOWUSDT", h.engine.state.PendingSignals[0].Symbol)
	assert.Equal(t, "HIGHUSDT", h.engine.state.PendingSignals[1].Symbol)
}

func TestScanSkipsZeroAverageAndShortHistory(t *testing.T) {
	h := newHarness(t, true, nil)
	zero := surgeCandles(250, 10)
	for i := range zero {
		if i != 46 {
			zero[i].ActiveBuyVolume = 0
		}
	}
	h.ex.candles["ZEROUSDT"] = zero
	h.ex.candles["SHORTUSDT"] = surgeCandles(250, 10)[:24]

	count, err := h.engine.Scan(context.Background(), []string{"ZEROUSDT", "SHORTUSDT"})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, h.engine.state.PendingSignals)
}

func TestScanToleratesSymbolFailures(t *testing.T) {
	h := newHarness(t, true, nil)
	h.ex.candles["AUSDT"] = surgeCandles(250, 10)
	h.ex.candleErr["BUSDT"] = errFetch
	h.ex.candles["CUSDT"] = surgeCandles(260, 10)

	count, err := h.engine.Scan(context.Background(), []string{"AUSDT", "BUSDT", "CUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, h.reload(t).PendingSignals, 2)
}

func TestScanPreservesLastSeenOnRescan(t *testing.T) {
	h := newHarness(t, true, nil)
	created := baseTime.Add(-5 * time.Hour)
	h.engine.state.PendingSignals = []*model.PendingSignal{{
		Symbol:              "BTCUSDT",
		SurgeRatio:          2.3,
		TargetEntryPrice:    50,
		CreatedAt:           created,
		LastSeenPrice:       57,
		LastSeenDistancePct: 0.12,
	}}
	h.ex.candles["BTCUSDT"] = surgeCandles(250, 100)

	_, err := h.engine.Scan(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)

	require.Len(t, h.engine.state.PendingSignals, 1)
	sig := h.engine.state.PendingSignals[0]
	assert.InDelta(t, 93.0, sig.TargetEntryPrice, 1e-9)
	assert.InDelta(t, 2.5, sig.SurgeRatio, 1e-9)
	assert.Equal(t, 57.0, sig.LastSeenPrice)
	assert.Equal(t, 0.12, sig.LastSeenDistancePct)
	assert.Equal(t, created, sig.CreatedAt)
}

func TestScanSkipsSymbolsWithOpenPosition(t *testing.T) {
	h := newHarness(t, true, nil)
	openPosition(h, "BTCUSDT", 100, baseTime)
	h.ex.candles["BTCUSDT"] = surgeCandles(250, 100)

	count, err := h.engine.Scan(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, h.engine.state.PendingSignals)
}

func TestScanStopsAtSymbolBoundaryAndCommits(t *testing.T) {
	h := newHarness(t, true, nil)
	h.ex.candles["AUSDT"] = surgeCandles(250, 10)
	h.ex.candles["BUSDT"] = surgeCandles(250, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ex.onCandles = func(symbol string) {
		if symbol == "AUSDT" {
			cancel()
		}
	}

	count, err := h.engine.Scan(ctx, []string{"AUSDT", "BUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	persisted := h.reload(t)
	require.Len(t, persisted.PendingSignals, 1)
	assert.Equal(t, "AUSDT", persisted.PendingSignals[0].Symbol)
}

func TestScanPausesBetweenBatches(t *testing.T) {
	h := newHarness(t, true, func(p *strategy.Params) { p.ScanPauseEvery = 2 })
	pauses := 0
	h.engine.sleep = func(context.Context, time.Duration) { pauses++ }

	_, err := h.engine.Scan(context.Background(), []string{"A", "B", "C", "D", "E"})
	require.NoError(t, err)
	assert.Equal(t, 2, pauses)
}

func TestScanTraderFilter(t *testing.T) {
	h := newHarness(t, true, func(p *strategy.Params) { p.EnableTraderFilter = true })
	for _, symbol := range []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT"} {
		h.ex.candles[symbol] = surgeCandles(250, 100)
	}
	h.ex.candles["EUSDT"] = surgeCandles(100, 100)
	h.ex.ratios["AUSDT"] = 0.69
	h.ex.ratios["BUSDT"] = 0.70
	h.ex.ratios["CUSDT"] = 1.3

	count, err := h.engine.Scan(context.Background(), []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var got []string
	for _, sig := range h.engine.state.PendingSignals {
		got = append(got, sig.Symbol)
	}
	assert.ElementsMatch(t, []string{"BUSDT", "CUSDT", "DUSDT"}, got, "low ratios are dropped, unknown ones pass")
	assert.Equal(t, 4, h.ex.ratioCalls, "ratio is only fetched for surges inside the band")
}

func TestScanTraderFilterFetchFailurePasses(t *testing.T) {
	h := newHarness(t, true, func(p *strategy.Params) { p.EnableTraderFilter = true })
	h.ex.candles["BTCUSDT"] = surgeCandles(250, 100)
	h.ex.ratioErr = errFetch

	count, err := h.engine.Scan(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScanTraderFilterDisabledSkipsFetch(t *testing.T) {
	h := newHarness(t, true, nil)
	h.ex.candles["BTCUSDT"] = surgeCandles(250, 100)
	h.ex.ratios["BTCUSDT"] = 0.1

	count, err := h.engine.Scan(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Zero(t, h.ex.ratioCalls)
}
