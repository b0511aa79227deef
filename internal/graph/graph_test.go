package graph

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triarb/internal/model"
)

func snapshot(tickers ...model.Ticker) model.Snapshot {
	snap := model.NewSnapshot("binance", time.Now())
	for _, t := range tickers {
		snap.Add(t)
	}
	return snap
}

func ticker(sym string, bid, ask float64) model.Ticker {
	s, err := model.ParseSymbol(sym)
	if err != nil {
		panic(err)
	}
	return model.Ticker{Symbol: s, Bid: bid, Ask: ask}
}

func TestBuild(t *testing.T) {
	fees := FeeSchedule{DefaultPercent: 0.1}

	t.Run("both sides", func(t *testing.T) {
		g := Build(snapshot(ticker("BTC/USDT", 50000, 50010)), fees)

		sell, err := g.Edge("BTC", "USDT")
		require.NoError(t, err)
		assert.Equal(t, model.SideSell, sell.Side)
		assert.Equal(t, 50000.0, sell.Rate)
		assert.Equal(t, 0.1, sell.FeePercent)

		buy, err := g.Edge("USDT", "BTC")
		require.NoError(t, err)
		assert.Equal(t, model.SideBuy, buy.Side)
		assert.Equal(t, 50010.0, buy.Price)
		assert.InDelta(t, 1/50010.0, buy.Rate, 1e-15)

		assert.Equal(t, Stats{Tickers: 1, Edges: 2}, g.Stats())
		assert.Equal(t, []string{"BTC", "USDT"}, g.Currencies())
	})

	t.Run("missing side skipped only in that direction", func(t *testing.T) {
		g := Build(snapshot(
			ticker("ETH/BTC", 0, 0.0741),
			ticker("ETH/USDT", 3700, math.NaN()),
			ticker("BTC/USDT", -1, 50010),
		), fees)

		_, err := g.Edge("ETH", "BTC")
		assert.ErrorIs(t, err, model.ErrDataGap)
		_, err = g.Edge("BTC", "ETH")
		assert.NoError(t, err)

		_, err = g.Edge("ETH", "USDT")
		assert.NoError(t, err)
		_, err = g.Edge("USDT", "ETH")
		assert.ErrorIs(t, err, model.ErrDataGap)

		assert.Equal(t, 2, g.Stats().SkippedBids)
		assert.Equal(t, 1, g.Stats().SkippedAsks)
		assert.Equal(t, 3, g.Stats().Edges)
	})

	t.Run("per-symbol fee override", func(t *testing.T) {
		fees := FeeSchedule{DefaultPercent: 0.1, SymbolPercent: NormalizeSymbolFees(map[string]float64{"eth/btc": 0.075, "bogus": 1})}
		g := Build(snapshot(ticker("ETH/BTC", 0.074, 0.0741), ticker("BTC/USDT", 50000, 50010)), fees)

		e, err := g.Edge("ETH", "BTC")
		require.NoError(t, err)
		assert.Equal(t, 0.075, e.FeePercent)
		e, err = g.Edge("BTC", "USDT")
		require.NoError(t, err)
		assert.Equal(t, 0.1, e.FeePercent)
		assert.Len(t, fees.SymbolPercent, 1)
	})

	t.Run("best market wins for a direction", func(t *testing.T) {
		// Two markets quoting the same pair in opposite orientation.
		g := Build(snapshot(ticker("BTC/USDT", 50000, 50010), ticker("USDT/BTC", 1/50005.0, 1/49990.0)), fees)
		e, err := g.Edge("USDT", "BTC")
		require.NoError(t, err)
		assert.Equal(t, "USDT/BTC", e.Symbol.String())

		e, err = g.Edge("BTC", "USDT")
		require.NoError(t, err)
		assert.Equal(t, "BTC/USDT", e.Symbol.String())
	})

	t.Run("reproducible", func(t *testing.T) {
		snap := snapshot(ticker("BTC/USDT", 50000, 50010), ticker("ETH/BTC", 0.074, 0.0741), ticker("ETH/USDT", 3700, 3705))
		a, b := Build(snap, fees), Build(snap, fees)
		for _, c := range a.Currencies() {
			assert.Equal(t, a.Neighbors(c), b.Neighbors(c))
		}
	})

	t.Run("empty snapshot", func(t *testing.T) {
		g := Build(model.Snapshot{}, fees)
		assert.Equal(t, 0, g.Len())
		assert.Empty(t, g.Neighbors("BTC"))
	})
}
