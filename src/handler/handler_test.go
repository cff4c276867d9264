package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgetrader/src/auth"
	"surgetrader/src/model"
	"surgetrader/src/repository"
)

type staticSource struct {
	snap *model.Snapshot
}

func (s staticSource) Snapshot() *model.Snapshot { return s.snap }

type memoryQueue struct {
	mu       sync.Mutex
	commands []model.Command
	err      error
}

func (q *memoryQueue) PendingCommands() []model.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Command{}, q.commands...)
}

func (q *memoryQueue) Enqueue(_ context.Context, cmd model.Command) (model.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return cmd, q.err
	}
	cmd.ID = "cmd-1"
	q.commands = append(q.commands, cmd)
	return cmd, nil
}

type mockTradeSearcher struct {
	trades      []model.HistoryEntry
	summary     repository.TradeSummary
	err         error
	options     repository.TradeSearchOptions
	calledCount int
}

func (m *mockTradeSearcher) Search(_ context.Context, options repository.TradeSearchOptions) ([]model.HistoryEntry, error) {
	m.calledCount++
	m.options = options
	return m.trades, m.err
}

func (m *mockTradeSearcher) Summary(context.Context) (repository.TradeSummary, error) {
	m.calledCount++
	return m.summary, m.err
}

func engineSnapshot() *model.Snapshot {
	snap := model.NewSnapshot()
	snap.Positions["BTCUSDT"] = &model.Position{Symbol: "BTCUSDT", Side: model.SideBuy, EntryPrice: 100}
	snap.Balance = 1234
	return snap
}

func withOperator(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), auth.OperatorKey, "admin"))
}

func TestGetStateHandler(t *testing.T) {
	queue := &memoryQueue{commands: []model.Command{{ID: "a", Action: "CLOSE", Symbol: "BTCUSDT"}}}
	handler := GetStateHandler(staticSource{snap: engineSnapshot()}, queue)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 1234.0, got.Balance)
	assert.Contains(t, got.Positions, "BTCUSDT")
	require.Len(t, got.PendingCommands, 1)
	assert.Equal(t, "a", got.PendingCommands[0].ID)
	assert.NotNil(t, got.History)
}

func TestGetStateHandler_NotReady(t *testing.T) {
	handler := GetStateHandler(staticSource{}, &memoryQueue{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestEnqueueCommandHandler_Unauthorized(t *testing.T) {
	handler := EnqueueCommandHandler(&memoryQueue{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(`{}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestEnqueueCommandHandler_Accepted(t *testing.T) {
	queue := &memoryQueue{}
	handler := EnqueueCommandHandler(queue)

	body := `{"action":"open","symbol":"ethusd","amount":250}`
	req := withOperator(httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, queue.commands, 1)
	cmd := queue.commands[0]
	assert.Equal(t, model.CommandActionOpen, cmd.Action)
	assert.Equal(t, "ETHUSDT", cmd.Symbol)
	assert.Equal(t, model.SideBuy, cmd.Side)
	assert.Equal(t, model.OrderTypeMarket, cmd.Type)
	assert.Equal(t, 250.0, cmd.Amount)

	var resp model.Command
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "cmd-1", resp.ID)
}

func TestEnqueueCommandHandler_Rejected(t *testing.T) {
	tests := map[string]string{
		"unknown field":   `{"action":"OPEN","symbol":"BTCUSDT","amount":1,"foo":1}`,
		"invalid json":    `{"action":`,
		"limit no price":  `{"action":"OPEN","symbol":"BTCUSDT","type":"LIMIT","quantity":1}`,
		"unknown action":  `{"action":"HEDGE","symbol":"BTCUSDT"}`,
		"amount and qty":  `{"action":"OPEN","symbol":"BTCUSDT","amount":1,"quantity":1}`,
		"missing symbol":  `{"action":"CLOSE"}`,
		"negative amount": `{"action":"OPEN","symbol":"BTCUSDT","amount":-5}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			queue := &memoryQueue{}
			req := withOperator(httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(body)))
			rr := httptest.NewRecorder()
			EnqueueCommandHandler(queue).ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, queue.commands)
		})
	}
}

func TestEnqueueCommandHandler_StoreError(t *testing.T) {
	queue := &memoryQueue{err: errors.New("disk full")}
	req := withOperator(httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(`{"action":"CLOSE","symbol":"BTCUSDT"}`)))
	rr := httptest.NewRecorder()
	EnqueueCommandHandler(queue).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestSearchTradesHandler_Success(t *testing.T) {
	repo := &mockTradeSearcher{trades: []model.HistoryEntry{{ID: 1, Symbol: "BTCUSDT", Reason: "stop_loss"}}}
	req := httptest.NewRequest(http.MethodGet, "/api/trades?symbol=BTCUSDT&reason=stop_loss&since=2024-01-01T00:00:00Z&limit=5", nil)
	rr := httptest.NewRecorder()
	SearchTradesHandler(repo).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, repo.calledCount)
	require.NotNil(t, repo.options.Symbol)
	assert.Equal(t, "BTCUSDT", *repo.options.Symbol)
	require.NotNil(t, repo.options.Reason)
	assert.Equal(t, "stop_loss", *repo.options.Reason)
	require.NotNil(t, repo.options.Since)
	assert.Equal(t, 5, repo.options.Limit)
	assert.Contains(t, rr.Body.String(), "BTCUSDT")
}

func TestSearchTradesHandler_BadRequest(t *testing.T) {
	for _, target := range []string{"/api/trades?since=yesterday", "/api/trades?limit=0", "/api/trades?limit=x"} {
		repo := &mockTradeSearcher{}
		rr := httptest.NewRecorder()
		SearchTradesHandler(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Zero(t, repo.calledCount, target)
	}
}

func TestSearchTradesHandler_RepoError(t *testing.T) {
	repo := &mockTradeSearcher{err: assert.AnError}
	rr := httptest.NewRecorder()
	SearchTradesHandler(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/trades", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 50, repo.options.Limit)
}

func TestTradeSummaryHandler(t *testing.T) {
	repo := &mockTradeSearcher{summary: repository.TradeSummary{Trades: 4, Wins: 3, AvgPnlPct: 0.05}}
	rr := httptest.NewRecorder()
	TradeSummaryHandler(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/trades/summary", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got repository.TradeSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got.Wins)
}

func TestStreamStateHandler(t *testing.T) {
	queue := &memoryQueue{}
	server := httptest.NewServer(StreamStateHandler(staticSource{snap: engineSnapshot()}, queue, 20*time.Millisecond))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(server.URL, "http://", "ws://", 1), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first model.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1234.0, first.Balance)
	assert.Empty(t, first.PendingCommands)

	_, err = queue.Enqueue(context.Background(), model.Command{Action: "CLOSE", Symbol: "BTCUSDT"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var next model.Snapshot
		if err := conn.ReadJSON(&next); err != nil {
			return false
		}
		return len(next.PendingCommands) == 1
	}, 2*time.Second, time.Millisecond)
}
