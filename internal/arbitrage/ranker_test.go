package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triarb/internal/model"
)

func cyc(a, b, c string, profit float64, reversed bool) model.Cycle {
	return model.Cycle{
		Edges: [3]model.RateEdge{
			{From: a, To: b, Symbol: model.NewSymbol(b, a)},
			{From: b, To: c, Symbol: model.NewSymbol(c, b)},
			{From: c, To: a, Symbol: model.NewSymbol(c, a)},
		},
		Reversed:      reversed,
		ProfitPercent: profit,
	}
}

func keys(opps []model.Opportunity) []string {
	out := make([]string, len(opps))
	for i, o := range opps {
		out[i] = o.Cycle.Key()
		if o.Cycle.Reversed {
			out[i] += "(r)"
		}
	}
	return out
}

func TestRank(t *testing.T) {
	cycles := []model.Cycle{
		cyc("USDT", "BTC", "ETH", 0.2, false),
		cyc("USDT", "SOL", "BTC", 0.5, true),
		cyc("USDT", "BNB", "ETH", 0.2, false),
		cyc("USDT", "BNB", "ETH", 0.2, true),
		cyc("USDT", "XRP", "BTC", 0.05, false),
	}

	t.Run("orders by profit then key", func(t *testing.T) {
		opps := Rank(cycles, "binance", 0, 0, testNow)
		assert.Equal(t, []string{
			"USDT>SOL>BTC(r)",
			"USDT>BNB>ETH",
			"USDT>BNB>ETH(r)",
			"USDT>BTC>ETH",
			"USDT>XRP>BTC",
		}, keys(opps))
		for i, o := range opps {
			assert.Equal(t, i+1, o.Rank)
			assert.Equal(t, o.Cycle.ProfitPercent, o.ProfitPercent)
			assert.Equal(t, testNow, o.DetectedAt)
		}
	})

	t.Run("threshold is strict", func(t *testing.T) {
		opps := Rank(cycles, "binance", 0.2, 0, testNow)
		assert.Equal(t, []string{"USDT>SOL>BTC(r)"}, keys(opps))
	})

	t.Run("max results", func(t *testing.T) {
		assert.Len(t, Rank(cycles, "binance", 0, 2, testNow), 2)
		assert.Len(t, Rank(cycles, "binance", 0, 100, testNow), 5)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Rank(nil, "binance", 0, 0, testNow))
	})

	t.Run("input order does not matter", func(t *testing.T) {
		reversed := make([]model.Cycle, len(cycles))
		for i, c := range cycles {
			reversed[len(cycles)-1-i] = c
		}
		assert.Equal(t, Rank(cycles, "binance", 0, 0, testNow), Rank(reversed, "binance", 0, 0, testNow))
	})

	t.Run("ids are stable per snapshot", func(t *testing.T) {
		a := Rank(cycles, "binance", 0, 0, testNow)
		b := Rank(cycles, "binance", 0, 0, testNow)
		later := Rank(cycles, "binance", 0, 0, testNow.Add(time.Second))
		require.Len(t, a, 5)

		seen := map[string]bool{}
		for i := range a {
			assert.Equal(t, a[i].ID, b[i].ID)
			assert.NotEqual(t, a[i].ID, later[i].ID)
			assert.False(t, seen[a[i].ID])
			seen[a[i].ID] = true
		}
	})
}
