package balance

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triarb/internal/model"
)

func TestMemoryLedger_Reserve(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]float64{"USDT": 1000})

	release, err := l.Reserve(ctx, "USDT", 600)
	require.NoError(t, err)
	assert.Equal(t, 400.0, l.Available("USDT"))
	assert.Equal(t, 1000.0, l.Balance("USDT"))

	_, err = l.Reserve(ctx, "USDT", 500)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	release()
	release()
	assert.Equal(t, 1000.0, l.Available("USDT"))

	_, err = l.Reserve(ctx, "BTC", 0.1)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = l.Reserve(ctx, "USDT", 0)
	assert.ErrorIs(t, err, model.ErrInvalidOrderSize)
}

func TestMemoryLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]float64{"USDT": 1000})

	require.NoError(t, l.Transfer(ctx, "USDT", 500, "BTC", 0.00999))
	assert.Equal(t, 500.0, l.Balance("USDT"))
	assert.Equal(t, 0.00999, l.Balance("BTC"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, l.Transfer(cancelled, "USDT", 1, "BTC", 1), context.Canceled)
	_, err := l.Reserve(cancelled, "USDT", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLedger_ConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]float64{"USDT": 1000})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(ctx, "USDT", 100); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, granted)
	assert.InDelta(t, 0, l.Available("USDT"), 1e-9)
}

func TestUnlimited(t *testing.T) {
	var l Ledger = Unlimited{}
	release, err := l.Reserve(context.Background(), "USDT", 1e12)
	require.NoError(t, err)
	release()
	assert.NoError(t, l.Transfer(context.Background(), "USDT", 1, "BTC", 1))
}
