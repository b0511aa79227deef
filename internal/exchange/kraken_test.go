package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"triarb/internal/config"
	"triarb/internal/model"
)

func TestKrakenClient_StartStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan krakenSubscribe, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_, payload, err := c.ReadMessage()
		if err != nil {
			return
		}
		var sub krakenSubscribe
		_ = sonnet.Unmarshal(payload, &sub)
		subs <- sub

		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"method":"subscribe","result":{"channel":"ticker","symbol":"BTC/USD"},"success":true}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"channel":"heartbeat"}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"channel":"ticker","type":"snapshot","data":[{"symbol":"BTC/USD","bid":60000.1,"bid_qty":1.2,"ask":60010.5,"ask_qty":0.8,"last":60005,"volume":1234.5}]}`))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	k := NewKrakenClient(discardLogger(), &config.ExchangeConfig{
		WSURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols: []string{"btc/usd", "ETH-USD", "bogus"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan model.Ticker)
	done := make(chan error, 1)
	go func() { done <- k.StartStream(ctx, ticks) }()

	sub := <-subs
	assert.Equal(t, "subscribe", sub.Method)
	assert.Equal(t, "ticker", sub.Params.Channel)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, sub.Params.Symbol)

	got := <-ticks
	assert.Equal(t, "BTC/USD", got.Symbol.String())
	assert.Equal(t, 60000.1, got.Bid)
	assert.Equal(t, 60010.5, got.Ask)
	assert.Equal(t, 1234.5, got.Volume)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartStream did not stop")
	}
}

func TestKrakenClient_NoSymbols(t *testing.T) {
	k := NewKrakenClient(discardLogger(), &config.ExchangeConfig{})
	assert.Error(t, k.StartStream(context.Background(), make(chan model.Ticker)))
}

func TestNewClient(t *testing.T) {
	cfg := &config.ExchangeConfig{}
	c, err := NewClient("kraken", discardLogger(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "kraken", c.GetName())

	c, err = NewClient("binance", discardLogger(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "binance", c.GetName())
	_, ok := c.(SnapshotProvider)
	assert.True(t, ok)

	_, err = NewClient("coinbase", discardLogger(), cfg)
	assert.Error(t, err)
}
