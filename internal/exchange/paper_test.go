package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triarb/internal/model"
)

type fixedProvider struct {
	snap model.Snapshot
	err  error
}

func (p fixedProvider) GetName() string { return "binance" }

func (p fixedProvider) Snapshot(context.Context) (model.Snapshot, error) { return p.snap, p.err }

func TestPaperTrader_SubmitOrder(t *testing.T) {
	ctx := context.Background()
	snap := model.NewSnapshot("binance", time.Now())
	snap.Add(tick("BTC/USDT", 50000, 50010))
	snap.Add(tick("ETH/BTC", 0, 0.0741))
	p := NewPaperTrader(discardLogger(), fixedProvider{snap: snap})

	buy, err := p.SubmitOrder(ctx, model.OrderRequest{Symbol: model.NewSymbol("BTC", "USDT"), Side: model.SideBuy, Quantity: 0.02})
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, buy.Status)
	assert.Equal(t, 0.02, buy.FilledQuantity)
	assert.Equal(t, 50010.0, buy.AvgPrice)
	assert.Contains(t, buy.Reference, "paper-")

	sell, err := p.SubmitOrder(ctx, model.OrderRequest{Symbol: model.NewSymbol("BTC", "USDT"), Side: model.SideSell, Quantity: 0.02})
	require.NoError(t, err)
	assert.Equal(t, 50000.0, sell.AvgPrice)
	assert.NotEqual(t, buy.Reference, sell.Reference)

	noBid, err := p.SubmitOrder(ctx, model.OrderRequest{Symbol: model.NewSymbol("ETH", "BTC"), Side: model.SideSell, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, model.OrderRejected, noBid.Status)

	unknown, err := p.SubmitOrder(ctx, model.OrderRequest{Symbol: model.NewSymbol("SOL", "USDT"), Side: model.SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, model.OrderRejected, unknown.Status)

	zero, err := p.SubmitOrder(ctx, model.OrderRequest{Symbol: model.NewSymbol("BTC", "USDT"), Side: model.SideBuy})
	require.NoError(t, err)
	assert.Equal(t, model.OrderRejected, zero.Status)

	broken := NewPaperTrader(discardLogger(), fixedProvider{err: errors.New("stream down")})
	out, err := broken.SubmitOrder(ctx, model.OrderRequest{Symbol: model.NewSymbol("BTC", "USDT"), Side: model.SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, model.OrderError, out.Status)
}
