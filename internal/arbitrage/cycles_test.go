package arbitrage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triarb/internal/graph"
)

func TestFindCycles(t *testing.T) {
	fees := graph.FeeSchedule{DefaultPercent: 0.1}

	t.Run("rotations collapse onto the anchor", func(t *testing.T) {
		cycles := FindCycles(graph.Build(profitableSnapshot(), fees), []string{"usdt"})
		require.Len(t, cycles, 1)
		assert.Equal(t, "USDT>BTC>ETH", cycles[0].Key())
		assert.True(t, cycles[0].Closed())
	})

	t.Run("smallest currency starts without anchors", func(t *testing.T) {
		cycles := FindCycles(graph.Build(profitableSnapshot(), fees), nil)
		require.Len(t, cycles, 1)
		assert.Equal(t, "BTC>ETH>USDT", cycles[0].Key())

		anchored := FindCycles(graph.Build(profitableSnapshot(), fees), []string{"USDT"})
		assert.InDelta(t, anchored[0].ProfitPercent, cycles[0].ProfitPercent, 1e-9)
	})

	t.Run("reverse orientation", func(t *testing.T) {
		snap := snapshotAt(testNow,
			ticker("BTC/USDT", 50000, 50010),
			ticker("ETH/BTC", 0.074, 0.0741),
			ticker("ETH/USDT", 3680, 3685),
		)
		cycles := FindCycles(graph.Build(snap, fees), []string{"USDT"})
		require.Len(t, cycles, 1)
		assert.Equal(t, "USDT>ETH>BTC", cycles[0].Key())
		assert.True(t, cycles[0].Reversed)
		assert.Equal(t, "buy ETH/USDT, sell ETH/BTC, sell BTC/USDT", tradeSequence(cycles[0]))
	})

	t.Run("unquoted closing side is a data gap", func(t *testing.T) {
		snap := snapshotAt(testNow,
			ticker("BTC/USDT", 50000, 50010),
			ticker("ETH/BTC", 0.074, 0.0741),
			ticker("ETH/USDT", 0, 3725),
		)
		assert.Empty(t, FindCycles(graph.Build(snap, fees), []string{"USDT"}))
	})

	t.Run("fees can remove the opportunity", func(t *testing.T) {
		high := graph.FeeSchedule{DefaultPercent: 0.1, SymbolPercent: map[string]float64{"ETH/USDT": 0.5}}
		assert.Empty(t, FindCycles(graph.Build(profitableSnapshot(), high), []string{"USDT"}))
	})

	t.Run("zero fees", func(t *testing.T) {
		cycles := FindCycles(graph.Build(profitableSnapshot(), graph.FeeSchedule{}), []string{"USDT"})
		require.Len(t, cycles, 1)
		assert.InDelta(t, (3720/(50010*0.0741)-1)*100, cycles[0].ProfitPercent, 1e-9)
	})
}
