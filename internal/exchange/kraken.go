package exchange

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"triarb/internal/config"
	"triarb/internal/model"
)

// KrakenClient implements the ExchangeClient interface for Kraken (WebSocket v2).
type KrakenClient struct {
	logger  *slog.Logger
	wsURL   string
	symbols []string
	now     func() time.Time
}

// NewKrakenClient creates a new KrakenClient.
func NewKrakenClient(logger *slog.Logger, cfg *config.ExchangeConfig) *KrakenClient {
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = "wss://ws.kraken.com/v2"
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if sym, err := model.ParseSymbol(s); err == nil {
			symbols = append(symbols, sym.String())
		}
	}
	return &KrakenClient{
		logger:  logger,
		wsURL:   wsURL,
		symbols: symbols,
		now:     time.Now,
	}
}

func (k *KrakenClient) GetName() string {
	return "kraken"
}

type krakenSubscribe struct {
	Method string `json:"method"`
	Params struct {
		Channel string   `json:"channel"`
		Symbol  []string `json:"symbol"`
	} `json:"params"`
}

type krakenMessage struct {
	Method  string `json:"method"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    []struct {
		Symbol string  `json:"symbol"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
		Volume float64 `json:"volume"`
	} `json:"data"`
}

// StartStream connects to the Kraken WebSocket API and streams ticker updates
// of the configured symbols.
func (k *KrakenClient) StartStream(ctx context.Context, tickChan chan<- model.Ticker) error {
	if len(k.symbols) == 0 {
		return errors.New("kraken: no symbols configured")
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			k.logger.Info("KrakenClient: context cancelled, shutting down")
			return nil
		}
		k.logger.Info("KrakenClient: connecting to WebSocket", "url", k.wsURL, "backoff", backoff)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, k.wsURL, nil)
		if err != nil {
			k.logger.Error("KrakenClient: WebSocket connection failed", "error", err)
			if !sleepBackoff(ctx, &backoff) {
				return nil
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = time.Second

		var sub krakenSubscribe
		sub.Method = "subscribe"
		sub.Params.Channel = "ticker"
		sub.Params.Symbol = k.symbols
		payload, err := sonnet.Marshal(sub)
		if err == nil {
			err = c.WriteMessage(websocket.TextMessage, payload)
		}
		if err != nil {
			k.logger.Error("KrakenClient: failed to send subscription", "error", err)
			c.Close()
			if !sleepBackoff(ctx, &backoff) {
				return nil
			}
			continue
		}
		k.logger.Info("KrakenClient: subscription sent successfully", "symbols", len(k.symbols))

		if done := k.readLoop(ctx, c, tickChan); done {
			return nil
		}
		if !sleepBackoff(ctx, &backoff) {
			return nil
		}
	}
}

func (k *KrakenClient) readLoop(ctx context.Context, c *websocket.Conn, tickChan chan<- model.Ticker) bool {
	stop := closeOnDone(ctx, c)
	defer stop()
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				k.logger.Info("KrakenClient: context cancelled, closing connection")
				return true
			}
			k.logger.Error("KrakenClient: failed to read message", "error", err)
			return false
		}

		var msg krakenMessage
		if err := sonnet.Unmarshal(message, &msg); err != nil {
			k.logger.Warn("KrakenClient: failed to parse message", "error", err)
			continue
		}

		// Handle subscription acknowledgement
		if msg.Method == "subscribe" {
			if msg.Success != nil && !*msg.Success {
				k.logger.Error("KrakenClient: subscription refused", "error", msg.Error)
			} else {
				k.logger.Info("KrakenClient: subscription confirmed")
			}
			continue
		}
		if msg.Channel != "ticker" {
			continue
		}

		for _, d := range msg.Data {
			sym, err := model.ParseSymbol(d.Symbol)
			if err != nil {
				k.logger.Warn("KrakenClient: failed to parse symbol", "symbol", d.Symbol, "error", err)
				continue
			}
			tick := model.Ticker{Symbol: sym, Bid: d.Bid, Ask: d.Ask, Volume: d.Volume, Timestamp: k.now()}
			select {
			case tickChan <- tick:
				k.logger.Debug("KrakenClient: sent ticker", "symbol", d.Symbol, "bid", d.Bid, "ask", d.Ask)
			case <-ctx.Done():
				k.logger.Info("KrakenClient: context cancelled while sending ticker")
				return true
			}
		}
	}
}
