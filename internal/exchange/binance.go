package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"triarb/internal/config"
	"triarb/internal/model"
)

const binanceMaxStreams = 1024

// BinanceClient implements ExchangeClient, SnapshotProvider and order
// submission for Binance spot.
type BinanceClient struct {
	logger     *slog.Logger
	restURL    string
	wsURL      string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	wanted     map[string]bool // configured "BASE/QUOTE" symbols, empty means all
	now        func() time.Time

	mu       sync.RWMutex
	markets  map[string]binanceMarket // native name -> market
	bySymbol map[string]string        // "BASE/QUOTE" -> native name
}

type binanceMarket struct {
	symbol   model.Symbol
	stepSize float64
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger, cfg *config.ExchangeConfig) *BinanceClient {
	wanted := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if sym, err := model.ParseSymbol(s); err == nil {
			wanted[sym.String()] = true
		}
	}
	restURL := cfg.RestURL
	if restURL == "" {
		restURL = "https://api.binance.com"
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = "wss://stream.binance.com:9443"
	}
	return &BinanceClient{
		logger:     logger,
		restURL:    strings.TrimRight(restURL, "/"),
		wsURL:      strings.TrimRight(wsURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wanted:     wanted,
		now:        time.Now,
	}
}

func (b *BinanceClient) GetName() string {
	return "binance"
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// LoadSymbols fetches the tradable markets and their lot sizes.
func (b *BinanceClient) LoadSymbols(ctx context.Context) error {
	body, status, err := b.get(ctx, "/api/v3/exchangeInfo")
	if err != nil {
		return fmt.Errorf("binance: exchange info: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("binance: exchange info: http %d: %s", status, truncate(body))
	}
	var info binanceExchangeInfo
	if err := sonnet.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("binance: decode exchange info: %w", err)
	}

	markets := make(map[string]binanceMarket)
	bySymbol := make(map[string]string)
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		sym := model.NewSymbol(s.BaseAsset, s.QuoteAsset)
		if !sym.Valid() || (len(b.wanted) > 0 && !b.wanted[sym.String()]) {
			continue
		}
		m := binanceMarket{symbol: sym}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				m.stepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			}
		}
		markets[s.Symbol] = m
		bySymbol[sym.String()] = s.Symbol
	}

	b.mu.Lock()
	b.markets = markets
	b.bySymbol = bySymbol
	b.mu.Unlock()
	b.logger.Info("BinanceClient: loaded symbols", "count", len(markets))
	return nil
}

func (b *BinanceClient) ensureSymbols(ctx context.Context) error {
	b.mu.RLock()
	loaded := b.markets != nil
	b.mu.RUnlock()
	if loaded {
		return nil
	}
	return b.LoadSymbols(ctx)
}

func (b *BinanceClient) market(native string) (binanceMarket, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.markets[native]
	return m, ok
}

func (b *BinanceClient) nativeName(sym model.Symbol) (string, binanceMarket, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	native, ok := b.bySymbol[sym.String()]
	if !ok {
		return "", binanceMarket{}, false
	}
	return native, b.markets[native], true
}

type binanceBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

// Snapshot fetches best bid/ask for every loaded market in one REST call.
func (b *BinanceClient) Snapshot(ctx context.Context) (model.Snapshot, error) {
	if err := b.ensureSymbols(ctx); err != nil {
		return model.Snapshot{}, err
	}
	body, status, err := b.get(ctx, "/api/v3/ticker/bookTicker")
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("binance: book ticker: %w", err)
	}
	if status != http.StatusOK {
		return model.Snapshot{}, fmt.Errorf("binance: book ticker: http %d: %s", status, truncate(body))
	}
	var rows []binanceBookTicker
	if err := sonnet.Unmarshal(body, &rows); err != nil {
		return model.Snapshot{}, fmt.Errorf("binance: decode book ticker: %w", err)
	}

	now := b.now()
	snap := model.NewSnapshot(b.GetName(), now)
	for _, r := range rows {
		m, ok := b.market(r.Symbol)
		if !ok {
			continue
		}
		snap.Add(model.Ticker{
			Symbol:    m.symbol,
			Bid:       parsePrice(r.BidPrice),
			Ask:       parsePrice(r.AskPrice),
			Volume:    parsePrice(r.BidQty) + parsePrice(r.AskQty),
			Timestamp: now,
		})
	}
	if snap.Len() == 0 {
		return model.Snapshot{}, model.ErrEmptySnapshot
	}
	return snap, nil
}

type binanceStreamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		BidQty string `json:"B"`
		Ask    string `json:"a"`
		AskQty string `json:"A"`
	} `json:"data"`
}

func (b *BinanceClient) streamURL() string {
	b.mu.RLock()
	names := make([]string, 0, len(b.markets))
	for native := range b.markets {
		names = append(names, strings.ToLower(native)+"@bookTicker")
	}
	b.mu.RUnlock()
	sort.Strings(names)
	if len(names) > binanceMaxStreams {
		b.logger.Warn("BinanceClient: too many markets for one stream, truncating", "markets", len(names), "max", binanceMaxStreams)
		names = names[:binanceMaxStreams]
	}
	return b.wsURL + "/stream?streams=" + strings.Join(names, "/")
}

// StartStream connects to the Binance WebSocket API and streams book ticker
// updates of every loaded market into tickChan.
func (b *BinanceClient) StartStream(ctx context.Context, tickChan chan<- model.Ticker) error {
	if err := b.ensureSymbols(ctx); err != nil {
		return err
	}
	wsURL := b.streamURL()
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			b.logger.Info("BinanceClient: context cancelled, shutting down")
			return nil
		}
		b.logger.Info("BinanceClient: connecting to WebSocket", "backoff", backoff)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			b.logger.Error("BinanceClient: WebSocket connection failed", "error", err)
			if !sleepBackoff(ctx, &backoff) {
				return nil
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = time.Second
		b.logger.Info("BinanceClient: connected successfully")

		if done := b.readLoop(ctx, c, tickChan); done {
			return nil
		}
		if !sleepBackoff(ctx, &backoff) {
			return nil
		}
	}
}

// readLoop forwards messages until the connection fails (false) or ctx ends (true).
func (b *BinanceClient) readLoop(ctx context.Context, c *websocket.Conn, tickChan chan<- model.Ticker) bool {
	stop := closeOnDone(ctx, c)
	defer stop()
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("BinanceClient: context cancelled, closing connection")
				return true
			}
			b.logger.Error("BinanceClient: failed to read message", "error", err)
			return false
		}

		var msg binanceStreamMessage
		if err := sonnet.Unmarshal(message, &msg); err != nil {
			b.logger.Warn("BinanceClient: failed to parse message", "error", err)
			continue
		}
		m, ok := b.market(msg.Data.Symbol)
		if !ok {
			continue
		}
		tick := model.Ticker{
			Symbol:    m.symbol,
			Bid:       parsePrice(msg.Data.Bid),
			Ask:       parsePrice(msg.Data.Ask),
			Volume:    parsePrice(msg.Data.BidQty) + parsePrice(msg.Data.AskQty),
			Timestamp: b.now(),
		}
		select {
		case tickChan <- tick:
			b.logger.Debug("BinanceClient: sent ticker", "symbol", tick.Symbol.String(), "bid", tick.Bid, "ask", tick.Ask)
		case <-ctx.Done():
			b.logger.Info("BinanceClient: context cancelled while sending ticker")
			return true
		}
	}
}

type binanceOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SubmitOrder places a signed MARKET order. The quantity is floored to the
// market's lot step and the rounded value is reported back as
// SubmittedQuantity. Transport failures, timeouts and 5xx responses are
// reported as ambiguous since the order may have executed.
func (b *BinanceClient) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderOutcome, error) {
	if err := b.ensureSymbols(ctx); err != nil {
		return model.OrderOutcome{Status: model.OrderError, Message: err.Error()}, err
	}
	native, m, ok := b.nativeName(req.Symbol)
	if !ok {
		err := fmt.Errorf("binance: %s: %w", req.Symbol, model.ErrUnknownSymbol)
		return model.OrderOutcome{Status: model.OrderRejected, Message: err.Error()}, nil
	}
	qty := floorToStep(req.Quantity, m.stepSize)
	if qty <= 0 {
		return model.OrderOutcome{Status: model.OrderRejected, Message: "quantity below lot size"}, nil
	}

	params := url.Values{}
	params.Set("symbol", native)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQuantity(qty, m.stepSize))
	params.Set("newOrderRespType", "FULL")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	params.Set("recvWindow", "5000")
	params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	payload := params.Encode()
	payload += "&signature=" + b.sign(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.restURL+"/api/v3/order", strings.NewReader(payload))
	if err != nil {
		return model.OrderOutcome{Status: model.OrderError, Message: err.Error()}, fmt.Errorf("binance: build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-MBX-APIKEY", b.apiKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return model.OrderOutcome{Message: err.Error()}, fmt.Errorf("binance: submit order %s: %w: %w", native, ErrAmbiguous, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.OrderOutcome{Message: err.Error()}, fmt.Errorf("binance: read order response: %w: %w", ErrAmbiguous, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return model.OrderOutcome{Message: truncate(body)}, fmt.Errorf("binance: order %s: http %d: %w", native, resp.StatusCode, ErrAmbiguous)
	case resp.StatusCode >= 400:
		var apiErr binanceError
		_ = sonnet.Unmarshal(body, &apiErr)
		b.logger.Warn("BinanceClient: order rejected", "symbol", native, "code", apiErr.Code, "msg", apiErr.Msg)
		return model.OrderOutcome{Status: model.OrderRejected, SubmittedQuantity: qty, Message: fmt.Sprintf("%d: %s", apiErr.Code, apiErr.Msg)}, nil
	}

	var order binanceOrderResponse
	if err := sonnet.Unmarshal(body, &order); err != nil {
		return model.OrderOutcome{Message: err.Error()}, fmt.Errorf("binance: decode order response: %w: %w", ErrAmbiguous, err)
	}
	executed := parsePrice(order.ExecutedQty)
	outcome := model.OrderOutcome{
		SubmittedQuantity: qty,
		FilledQuantity:    executed,
		Reference:         strconv.FormatInt(order.OrderID, 10),
		Message:           order.Status,
	}
	if executed > 0 {
		outcome.AvgPrice = parsePrice(order.CummulativeQuoteQty) / executed
	}
	switch {
	case order.Status == "FILLED":
		outcome.Status = model.OrderFilled
	case executed > 0:
		outcome.Status = model.OrderPartiallyFilled
	case order.Status == "REJECTED" || order.Status == "EXPIRED" || order.Status == "CANCELED":
		outcome.Status = model.OrderRejected
	default:
		outcome.Status = model.OrderError
	}
	return outcome, nil
}

func (b *BinanceClient) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *BinanceClient) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.restURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func floorToStep(q, step float64) float64 {
	if step <= 0 {
		return q
	}
	// Nudge by a tiny epsilon so 0.3/0.1 does not floor to 2.
	n := math.Floor(q/step + 1e-9)
	return n * step
}

// formatQuantity prints q with no more decimals than step carries.
func formatQuantity(q, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(q, 'f', -1, 64)
	}
	decimals := 0
	if s := strconv.FormatFloat(step, 'f', -1, 64); strings.Contains(s, ".") {
		decimals = len(s) - strings.Index(s, ".") - 1
	}
	return strconv.FormatFloat(q, 'f', decimals, 64)
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
