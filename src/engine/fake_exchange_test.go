package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"surgetrader/src/model"
	"surgetrader/src/storage"
	"surgetrader/src/strategy"
)

var errFetch = errors.New("fetch failed")

type fakeExchange struct {
	mu sync.Mutex

	symbols    []string
	listCalls  int
	listErr    error
	candles    map[string][]model.Candle
	candleErr  map[string]error
	onCandles  func(symbol string)
	prices     map[string]float64
	priceErr   map[string]error
	pricePanic bool
	balance    float64
	ratios     map[string]float64
	ratioErr   error
	ratioCalls int

	orderErr    error
	orderResult *model.OrderResult
	marginErr   error
	calls       []string
	orders      []model.OrderRequest
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		candles:   map[string][]model.Candle{},
		candleErr: map[string]error{},
		prices:    map[string]float64{},
		priceErr:  map[string]error{},
		ratios:    map[string]float64{},
	}
}

func (f *fakeExchange) ListTradableSymbols(_ context.Context, _, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.listErr; err != nil {
		f.listErr = nil
		return nil, err
	}
	return append([]string{}, f.symbols...), nil
}

func (f *fakeExchange) GetCandles(_ context.Context, symbol, _ string, _ int) ([]model.Candle, error) {
	if f.onCandles != nil {
		f.onCandles(symbol)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.candleErr[symbol]; err != nil {
		return nil, err
	}
	return f.candles[symbol], nil
}

func (f *fakeExchange) GetPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pricePanic {
		panic("price feed exploded")
	}
	if err := f.priceErr[symbol]; err != nil {
		return 0, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errFetch
	}
	return p, nil
}

func (f *fakeExchange) GetTopLongShortRatio(_ context.Context, symbol, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratioCalls++
	if f.ratioErr != nil {
		return 0, f.ratioErr
	}
	if r, ok := f.ratios[symbol]; ok {
		return r, nil
	}
	return -1, nil
}

func (f *fakeExchange) GetBalance(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "balance")
	return f.balance, nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "leverage:"+symbol)
	return nil
}

func (f *fakeExchange) SetMarginMode(_ context.Context, symbol, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "margin:"+symbol)
	return f.marginErr
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "order:"+req.Symbol)
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, req)
	if f.orderResult != nil {
		res := *f.orderResult
		return &res, nil
	}
	return &model.OrderResult{OrderID: "1", Status: "FILLED"}, nil
}

func (f *fakeExchange) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []model.HistoryEntry
}

func (j *recordingJournal) Create(_ context.Context, entry *model.HistoryEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *entry)
	return nil
}

type harness struct {
	engine  *Engine
	ex      *fakeExchange
	store   *storage.StateStore
	path    string
	clock   *fakeClock
	journal *recordingJournal
}

var baseTime = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func newHarness(t *testing.T, dryRun bool, tweak func(p *strategy.Params)) *harness {
	t.Helper()
	params := strategy.DefaultParams()
	if tweak != nil {
		tweak(&params)
	}

	path := filepath.Join(t.TempDir(), "bot_state.json")
	store := storage.NewStateStore(storage.NewFileBackend(path))
	ex := newFakeExchange()
	journal := &recordingJournal{}

	e, err := New(Config{DryRun: dryRun, LoopPeriod: 10 * time.Millisecond, CallTimeout: time.Second, StopTimeout: time.Second},
		params, Deps{Exchange: ex, Store: store, Journal: journal})
	require.NoError(t, err)

	clock := &fakeClock{t: baseTime}
	e.now = clock.Now
	e.sleep = func(context.Context, time.Duration) {}
	require.NoError(t, e.Init(context.Background()))

	return &harness{engine: e, ex: ex, store: store, path: path, clock: clock, journal: journal}
}

// reload reads the persisted document through a fresh store.
func (h *harness) reload(t *testing.T) *model.Snapshot {
	t.Helper()
	snap, err := storage.NewStateStore(storage.NewFileBackend(h.path)).Load(context.Background())
	require.NoError(t, err)
	return snap
}

// surgeCandles builds 48 hourly candles whose trailing window averages 100 of buy volume.
// The second-to-last candle carries lastBuyVolume and closes at closePrice.
func surgeCandles(lastBuyVolume, closePrice float64) []model.Candle {
	start := baseTime.Truncate(time.Hour).Add(-47 * time.Hour)
	out := make([]model.Candle, 48)
	for i := range out {
		out[i] = model.Candle{
			OpenTime:        start.Add(time.Duration(i) * time.Hour),
			Open:            closePrice,
			High:            closePrice,
			Low:             closePrice,
			Close:           closePrice,
			ActiveBuyVolume: 100,
		}
	}
	out[46].ActiveBuyVolume = lastBuyVolume
	out[47].ActiveBuyVolume = 5000
	return out
}

func openPosition(h *harness, symbol string, entry float64, entryTime time.Time) *model.Position {
	pos := &model.Position{
		Symbol:            symbol,
		Side:              model.SideBuy,
		EntryTime:         entryTime,
		EntryPrice:        entry,
		VirtualEntryPrice: entry,
		Quantity:          1,
	}
	h.engine.state.Positions[symbol] = pos
	return pos
}
