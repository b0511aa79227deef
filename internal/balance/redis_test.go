package balance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"triarb/internal/config"
	"triarb/internal/model"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb, err := NewRedisClient(ctx, config.RedisConfig{Addr: host + ":" + port.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLedger(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewRedisLedger(rdb, "test", time.Second, logger)

	require.NoError(t, l.Seed(ctx, map[string]float64{"USDT": 1000}))

	t.Run("reserve and release", func(t *testing.T) {
		release, err := l.Reserve(ctx, "USDT", 600)
		require.NoError(t, err)

		avail, err := l.Available(ctx, "USDT")
		require.NoError(t, err)
		assert.InDelta(t, 400, avail, 1e-9)

		_, err = l.Reserve(ctx, "USDT", 500)
		assert.ErrorIs(t, err, model.ErrInsufficientBalance)

		release()
		release()
		avail, err = l.Available(ctx, "USDT")
		require.NoError(t, err)
		assert.InDelta(t, 1000, avail, 1e-9)
	})

	t.Run("lock is released after reserving", func(t *testing.T) {
		release, err := l.Reserve(ctx, "USDT", 1)
		require.NoError(t, err)
		defer release()

		n, err := rdb.Exists(ctx, l.lockKey("USDT")).Result()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("available sees booking and release together", func(t *testing.T) {
		require.NoError(t, l.SetBalance(ctx, "DAI", 500))
		release, err := l.Reserve(ctx, "DAI", 500)
		require.NoError(t, err)

		require.NoError(t, l.Transfer(ctx, "DAI", 500, "BTC", 0.01))
		avail, err := l.Available(ctx, "DAI")
		require.NoError(t, err)
		assert.InDelta(t, -500, avail, 1e-9)

		release()
		avail, err = l.Available(ctx, "DAI")
		require.NoError(t, err)
		assert.InDelta(t, 0, avail, 1e-9)
		require.NoError(t, l.Transfer(ctx, "BTC", 0.01, "DAI", 500))
	})

	t.Run("transfer", func(t *testing.T) {
		require.NoError(t, l.Transfer(ctx, "USDT", 100, "BTC", 0.002))
		usdt, err := l.Balance(ctx, "USDT")
		require.NoError(t, err)
		btc, err := l.Balance(ctx, "BTC")
		require.NoError(t, err)
		assert.InDelta(t, 900, usdt, 1e-9)
		assert.InDelta(t, 0.002, btc, 1e-12)
	})

	t.Run("concurrent reservations do not overspend", func(t *testing.T) {
		require.NoError(t, l.SetBalance(ctx, "ETH", 1))
		other := NewRedisLedger(rdb, "test", time.Second, logger)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			ledger := l
			if i%2 == 1 {
				ledger = other
			}
			go func() {
				defer wg.Done()
				if _, err := ledger.Reserve(ctx, "ETH", 0.25); err == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 4, granted)
	})
}
