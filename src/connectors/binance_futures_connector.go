// REST CLIENT FOR BINANCE USDT-M FUTURES
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"surgetrader/src/model"
)

// -----------------------------
// CONFIG
// -----------------------------
const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
	defaultBaseURL         = "https://fapi.binance.com"
)

// -----------------------------
// API ERROR
// -----------------------------
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance HTTP %d: %s (%d) %s", e.HTTPStatus, GetErrorMsg(e.Code), e.Code, e.Msg)
}

// -----------------------------
// WIRE TYPES
// -----------------------------
type symbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
}

type symbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"`
	Filters []symbolFilter `json:"filters"`
}

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type longShortRatio struct {
	Symbol         string `json:"symbol"`
	LongShortRatio string `json:"longShortRatio"`
	LongAccount    string `json:"longAccount"`
	ShortAccount   string `json:"shortAccount"`
	Timestamp      int64  `json:"timestamp"`
}

type assetBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
}

// PositionRisk is one row of the position risk endpoint.
type PositionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
	MarkPrice   string `json:"markPrice"`
	Leverage    string `json:"leverage"`
	MarginType  string `json:"marginType"`
}

// Filters are the precision rules of a symbol.
type Filters struct {
	TickSize decimal.Decimal
	StepSize decimal.Decimal
}

// -----------------------------
// AUTHENTICATED CLIENT
// -----------------------------
type BinanceFuturesClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	http       *resty.Client
	now        func() time.Time

	mu      sync.Mutex
	filters map[string]Filters
}

// isRetryableResp retries reads only. A resent order carries the same client order id
// and would be rejected as a duplicate while the first attempt may have filled.
func isRetryableResp(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}

	if err != nil {
		return true
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewBinanceFuturesClient(config Config) *BinanceFuturesClient {
	retryCount := defaultRetryAttempts - 1

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
		logger.WithField("baseURL", baseURL).Warn("No base URL provided, using default")
	}
	timeout := config.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	recvWindow := config.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 5000
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BinanceFuturesClient{
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		baseURL:    baseURL,
		recvWindow: recvWindow,
		http:       httpClient,
		now:        time.Now,
		filters:    map[string]Filters{},
	}
}

func signRequest(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceFuturesClient) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	req := c.http.R().SetContext(ctx)

	query := params.Encode()
	if signed {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query = params.Encode()
		query += "&signature=" + signRequest(query, c.apiSecret)
		req = req.SetHeader("X-MBX-APIKEY", c.apiKey)
	}
	// the query is appended raw so the signature stays the last parameter
	target := path
	if query != "" {
		target += "?" + query
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()

	if resp.StatusCode() != 200 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode()}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == 0 {
			apiErr.Msg = string(raw)
		}
		return nil, apiErr
	}

	return raw, nil
}

func fetchErr(what, symbol string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", model.ErrTransientFetch, what, symbol, err)
}

// -----------------------------
// MARKET DATA
// -----------------------------
func (c *BinanceFuturesClient) loadExchangeInfo(ctx context.Context) (*exchangeInfo, error) {
	raw, err := c.doRequest(ctx, "GET", "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, s := range info.Symbols {
		c.filters[s.Symbol] = parseFilters(s.Filters)
	}
	c.mu.Unlock()

	return &info, nil
}

func parseFilters(filters []symbolFilter) Filters {
	var f Filters
	for _, flt := range filters {
		switch flt.FilterType {
		case "PRICE_FILTER":
			f.TickSize, _ = decimal.NewFromString(flt.TickSize)
		case "LOT_SIZE":
			f.StepSize, _ = decimal.NewFromString(flt.StepSize)
		}
	}
	return f
}

// ListTradableSymbols returns symbols matching pattern (case-insensitive) with the given status.
func (c *BinanceFuturesClient) ListTradableSymbols(ctx context.Context, pattern, status string) ([]string, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid symbol pattern %q: %v", model.ErrConfiguration, pattern, err)
	}

	info, err := c.loadExchangeInfo(ctx)
	if err != nil {
		return nil, fetchErr("exchangeInfo", "", err)
	}

	var symbols []string
	for _, s := range info.Symbols {
		if re.MatchString(s.Symbol) && s.Status == status {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// SymbolFilters returns the cached precision filters, loading exchange info on first use.
func (c *BinanceFuturesClient) SymbolFilters(ctx context.Context, symbol string) (Filters, error) {
	c.mu.Lock()
	f, ok := c.filters[symbol]
	c.mu.Unlock()
	if ok {
		return f, nil
	}

	if _, err := c.loadExchangeInfo(ctx); err != nil {
		return Filters{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok = c.filters[symbol]
	if !ok {
		return Filters{}, fmt.Errorf("symbol %s not listed", symbol)
	}
	return f, nil
}

// GetCandles returns klines oldest first.
func (c *BinanceFuturesClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	raw, err := c.doRequest(ctx, "GET", "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, fetchErr("klines", symbol, err)
	}

	candles, err := parseKlines(raw)
	if err != nil {
		return nil, fetchErr("klines", symbol, err)
	}
	return candles, nil
}

// parseKlines decodes the positional kline arrays:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, takerBuyBase, takerBuyQuote, ignore]
func parseKlines(raw []byte) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 10 {
			return nil, fmt.Errorf("kline %d has %d fields", i, len(row))
		}
		var (
			openTime, closeTime, trades int64
			fields                      [7]float64
		)
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			return nil, fmt.Errorf("kline %d close time: %w", i, err)
		}
		if err := json.Unmarshal(row[8], &trades); err != nil {
			return nil, fmt.Errorf("kline %d trades: %w", i, err)
		}
		for j, idx := range []int{1, 2, 3, 4, 5, 7, 9} {
			v, err := parseNumber(row[idx])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, idx, err)
			}
			fields[j] = v
		}
		candles = append(candles, model.Candle{
			OpenTime:        time.UnixMilli(openTime).UTC(),
			Open:            fields[0],
			High:            fields[1],
			Low:             fields[2],
			Close:           fields[3],
			Volume:          fields[4],
			CloseTime:       time.UnixMilli(closeTime).UTC(),
			QuoteVolume:     fields[5],
			TradeCount:      trades,
			ActiveBuyVolume: fields[6],
		})
	}
	return candles, nil
}

// parseNumber accepts both quoted and bare JSON numbers.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// GetPrice returns the latest traded price. The endpoint answers with an object for a
// single symbol and with a list otherwise; both shapes are accepted.
func (c *BinanceFuturesClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	raw, err := c.doRequest(ctx, "GET", "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return 0, fetchErr("price", symbol, err)
	}

	price, err := parseTickerPrice(raw, symbol)
	if err != nil {
		return 0, fetchErr("price", symbol, err)
	}
	return price, nil
}

// GetTopLongShortRatio returns the latest top-trader long/short account ratio for symbol
// over period. It returns -1 when the exchange has no data for the symbol.
func (c *BinanceFuturesClient) GetTopLongShortRatio(ctx context.Context, symbol, period string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("period", period)
	params.Set("limit", "1")

	raw, err := c.doRequest(ctx, "GET", "/futures/data/topLongShortAccountRatio", params, false)
	if err != nil {
		return 0, fetchErr("long/short ratio", symbol, err)
	}

	var rows []longShortRatio
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, fetchErr("long/short ratio", symbol, err)
	}
	if len(rows) == 0 {
		return -1, nil
	}
	ratio, err := strconv.ParseFloat(rows[len(rows)-1].LongShortRatio, 64)
	if err != nil {
		return 0, fetchErr("long/short ratio", symbol, err)
	}
	return ratio, nil
}

func parseTickerPrice(raw []byte, symbol string) (float64, error) {
	var tickers []tickerPrice
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &tickers); err != nil {
			return 0, err
		}
	} else {
		var tk tickerPrice
		if err := json.Unmarshal(raw, &tk); err != nil {
			return 0, err
		}
		tickers = append(tickers, tk)
	}

	for _, tk := range tickers {
		if tk.Symbol != "" && tk.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(tk.Price, 64)
		if err != nil || price <= 0 {
			return 0, fmt.Errorf("invalid price %q", tk.Price)
		}
		return price, nil
	}
	return 0, errors.New("price data is empty")
}

// -----------------------------
// ACCOUNT
// -----------------------------

// GetBalance returns the available USDT balance of the futures wallet.
func (c *BinanceFuturesClient) GetBalance(ctx context.Context) (float64, error) {
	raw, err := c.doRequest(ctx, "GET", "/fapi/v2/balance", nil, true)
	if err != nil {
		return 0, fetchErr("balance", "", err)
	}

	var assets []assetBalance
	if err := json.Unmarshal(raw, &assets); err != nil {
		return 0, fetchErr("balance", "", err)
	}
	for _, a := range assets {
		if a.Asset == "USDT" {
			v, err := strconv.ParseFloat(a.AvailableBalance, 64)
			if err != nil {
				return 0, fetchErr("balance", "", err)
			}
			return v, nil
		}
	}
	return 0, nil
}

// GetPositionRisk returns position rows for symbol.
func (c *BinanceFuturesClient) GetPositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	raw, err := c.doRequest(ctx, "GET", "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}
	var rows []PositionRisk
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// -----------------------------
// RISK & MARGIN
// -----------------------------
func (c *BinanceFuturesClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	if _, err := c.doRequest(ctx, "POST", "/fapi/v1/leverage", params, true); err != nil {
		return asOrderError(symbol, err)
	}
	logger.WithFields(logger.Fields{"symbol": symbol, "leverage": leverage}).Info("leverage set")
	return nil
}

// SetMarginMode switches the margin type; an unchanged margin type is not an error.
func (c *BinanceFuturesClient) SetMarginMode(ctx context.Context, symbol, mode string) error {
	mode = strings.ToUpper(mode)
	if mode != "ISOLATED" && mode != "CROSSED" {
		return fmt.Errorf("%w: invalid margin mode %q", model.ErrConfiguration, mode)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", mode)

	_, err := c.doRequest(ctx, "POST", "/fapi/v1/marginType", params, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeNoNeedToChangeMarginType {
			return nil
		}
		return asOrderError(symbol, err)
	}
	logger.WithFields(logger.Fields{"symbol": symbol, "marginType": mode}).Info("margin type set")
	return nil
}

// -----------------------------
// TRADING
// -----------------------------

// PlaceOrder submits an order. With ClosePosition set the open position is looked up and
// closed in full with a reduce-only market order on the opposite side.
func (c *BinanceFuturesClient) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	if req.ClosePosition {
		closeReq, err := c.resolveClose(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		req = closeReq
	}

	params, err := c.buildOrderParams(ctx, req)
	if err != nil {
		return nil, err
	}

	raw, err := c.doRequest(ctx, "POST", "/fapi/v1/order", params, true)
	if err != nil {
		logger.WithFields(logger.Fields{
			"symbol":   req.Symbol,
			"side":     req.Side,
			"type":     req.Type,
			"quantity": params.Get("quantity"),
		}).WithError(err).Error("order failed")
		return nil, asOrderError(req.Symbol, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	result := &model.OrderResult{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:  resp.Status,
	}
	if result.AvgPrice, err = parseFill(resp.AvgPrice); err != nil {
		logger.WithFields(logger.Fields{"symbol": req.Symbol, "avgPrice": resp.AvgPrice}).WithError(err).Warn("unparsable order avgPrice")
	}
	if result.ExecutedQty, err = parseFill(resp.ExecutedQty); err != nil {
		logger.WithFields(logger.Fields{"symbol": req.Symbol, "executedQty": resp.ExecutedQty}).WithError(err).Warn("unparsable order executedQty")
	}

	logger.WithFields(logger.Fields{
		"symbol":      req.Symbol,
		"side":        req.Side,
		"type":        req.Type,
		"orderId":     result.OrderID,
		"avgPrice":    result.AvgPrice,
		"executedQty": result.ExecutedQty,
	}).Info("order placed")

	return result, nil
}

// parseFill reads an optional numeric fill field; an absent field is zero.
func parseFill(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return f, nil
}

func (c *BinanceFuturesClient) resolveClose(ctx context.Context, symbol string) (model.OrderRequest, error) {
	rows, err := c.GetPositionRisk(ctx, symbol)
	if err != nil {
		return model.OrderRequest{}, asOrderError(symbol, err)
	}

	for _, row := range rows {
		if row.Symbol != symbol {
			continue
		}
		amt, err := strconv.ParseFloat(row.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		side := model.SideSell
		if amt < 0 {
			side = model.SideBuy
			amt = -amt
		}
		logger.WithFields(logger.Fields{
			"symbol":      symbol,
			"positionAmt": row.PositionAmt,
			"closeSide":   side,
		}).Info("closing position")
		return model.OrderRequest{
			Symbol:     symbol,
			Side:       side,
			Type:       model.OrderTypeMarket,
			Quantity:   amt,
			ReduceOnly: true,
		}, nil
	}
	return model.OrderRequest{}, &model.OrderError{Symbol: symbol, Code: 0, Msg: "no open position to close"}
}

func (c *BinanceFuturesClient) buildOrderParams(ctx context.Context, req model.OrderRequest) (url.Values, error) {
	filters, err := c.SymbolFilters(ctx, req.Symbol)
	if err != nil {
		logger.WithField("symbol", req.Symbol).WithError(err).Warn("no precision filters, sending raw values")
	}

	qty := AdjustPrecision(req.Quantity, filters.StepSize)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, &model.OrderError{Symbol: req.Symbol, Msg: fmt.Sprintf("invalid order quantity %v", req.Quantity)}
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("type", strings.ToUpper(req.Type))
	params.Set("quantity", qty.String())
	params.Set("newClientOrderId", "st-"+uuid.NewString()[:18])
	params.Set("newOrderRespType", "RESULT")

	switch strings.ToUpper(req.Type) {
	case model.OrderTypeLimit:
		if req.Price <= 0 {
			return nil, &model.OrderError{Symbol: req.Symbol, Msg: "LIMIT order requires a price"}
		}
		params.Set("price", AdjustPrecision(req.Price, filters.TickSize).String())
		params.Set("timeInForce", "GTC")
	case model.OrderTypeMarket:
	default:
		return nil, &model.OrderError{Symbol: req.Symbol, Msg: fmt.Sprintf("unsupported order type %q", req.Type)}
	}

	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	return params, nil
}

// AdjustPrecision floors value to a multiple of step. A zero step leaves value untouched.
func AdjustPrecision(value float64, step decimal.Decimal) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	if step.LessThanOrEqual(decimal.Zero) || v.LessThanOrEqual(decimal.Zero) {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// asOrderError converts exchange rejections into *model.OrderError and leaves transport
// failures wrapped as they are.
func asOrderError(symbol string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &model.OrderError{Symbol: symbol, Code: apiErr.Code, Msg: GetErrorMsg(apiErr.Code) + ": " + apiErr.Msg}
	}
	var orderErr *model.OrderError
	if errors.As(err, &orderErr) {
		return err
	}
	return fmt.Errorf("exchange call for %s: %w", symbol, err)
}
