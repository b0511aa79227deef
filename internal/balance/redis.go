package balance

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"triarb/internal/config"
	"triarb/internal/model"
)

// ErrLockHeld is returned when a currency lock could not be taken in time.
var ErrLockHeld = errors.New("balance: lock already held")

// unlockLua deletes a lock key only if its value matches the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	lockRetryInterval = 10 * time.Millisecond
	lockAttempts      = 100
)

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// RedisLedger is a Ledger shared by several processes. Balances and
// reservations live in two hashes; a per-currency SETNX lock makes the
// check-and-reserve step atomic.
type RedisLedger struct {
	rdb      *redis.Client
	prefix   string
	lockTTL  time.Duration
	unlockSc *redis.Script
	logger   *slog.Logger
}

// NewRedisLedger creates a RedisLedger with keys under prefix.
func NewRedisLedger(rdb *redis.Client, prefix string, lockTTL time.Duration, logger *slog.Logger) *RedisLedger {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &RedisLedger{
		rdb:      rdb,
		prefix:   prefix,
		lockTTL:  lockTTL,
		unlockSc: redis.NewScript(unlockLua),
		logger:   logger,
	}
}

func (l *RedisLedger) balancesKey() string { return l.prefix + ":balances" }
func (l *RedisLedger) reservedKey() string { return l.prefix + ":reserved" }
func (l *RedisLedger) lockKey(c string) string {
	return "lock:" + l.prefix + ":" + c
}

// SetBalance overwrites the booked balance of currency.
func (l *RedisLedger) SetBalance(ctx context.Context, currency string, amount float64) error {
	if err := l.rdb.HSet(ctx, l.balancesKey(), currency, amount).Err(); err != nil {
		return fmt.Errorf("redis: set balance %s: %w", currency, err)
	}
	return nil
}

// Seed sets every balance in initial.
func (l *RedisLedger) Seed(ctx context.Context, initial map[string]float64) error {
	for c, v := range initial {
		if err := l.SetBalance(ctx, c, v); err != nil {
			return err
		}
	}
	return nil
}

// Balance returns the booked balance of currency.
func (l *RedisLedger) Balance(ctx context.Context, currency string) (float64, error) {
	return l.hgetFloat(ctx, l.balancesKey(), currency)
}

// Available returns the balance of currency not held by a reservation.
// Both hashes are read in one MULTI so the two values come from the same
// point in time.
func (l *RedisLedger) Available(ctx context.Context, currency string) (float64, error) {
	var bal, res *redis.StringCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		bal = p.HGet(ctx, l.balancesKey(), currency)
		res = p.HGet(ctx, l.reservedKey(), currency)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis: available %s: %w", currency, err)
	}
	b, err := floatResult(bal)
	if err != nil {
		return 0, err
	}
	r, err := floatResult(res)
	if err != nil {
		return 0, err
	}
	return b - r, nil
}

func (l *RedisLedger) Reserve(ctx context.Context, currency string, amount float64) (func(), error) {
	if amount <= 0 {
		return nil, fmt.Errorf("balance: reserve %v %s: %w", amount, currency, model.ErrInvalidOrderSize)
	}
	unlock, err := l.lock(ctx, currency)
	if err != nil {
		return nil, err
	}
	defer unlock()

	available, err := l.Available(ctx, currency)
	if err != nil {
		return nil, err
	}
	if amount > available+tolerance {
		return nil, fmt.Errorf("balance: reserve %v %s, available %v: %w", amount, currency, available, model.ErrInsufficientBalance)
	}
	if err := l.rdb.HIncrByFloat(ctx, l.reservedKey(), currency, amount).Err(); err != nil {
		return nil, fmt.Errorf("redis: reserve %s: %w", currency, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Use a background context so the release succeeds even if the
			// caller's context is already cancelled.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.rdb.HIncrByFloat(relCtx, l.reservedKey(), currency, -amount).Err(); err != nil {
				l.logger.Error("RedisLedger: failed to release reservation", "currency", currency, "amount", amount, "error", err)
			}
		})
	}, nil
}

func (l *RedisLedger) Transfer(ctx context.Context, from string, spent float64, to string, received float64) error {
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrByFloat(ctx, l.balancesKey(), from, -spent)
		p.HIncrByFloat(ctx, l.balancesKey(), to, received)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: transfer %s->%s: %w", from, to, err)
	}
	return nil
}

// lock takes the per-currency lock, retrying briefly while another holder has it.
func (l *RedisLedger) lock(ctx context.Context, currency string) (func(), error) {
	token := uuid.New().String()
	key := l.lockKey(currency)
	for i := 0; i < lockAttempts; i++ {
		ok, err := l.rdb.SetNX(ctx, key, token, l.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", currency, err)
		}
		if ok {
			return func() {
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := l.unlockSc.Run(unlockCtx, l.rdb, []string{key}, token).Err(); err != nil {
					l.logger.Error("RedisLedger: failed to release lock", "currency", currency, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
	return nil, fmt.Errorf("balance: %s: %w", currency, ErrLockHeld)
}

func (l *RedisLedger) hgetFloat(ctx context.Context, key, field string) (float64, error) {
	return floatResult(l.rdb.HGet(ctx, key, field))
}

// floatResult parses a hash field, treating a missing field as zero.
func floatResult(cmd *redis.StringCmd) (float64, error) {
	s, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: %s: %w", cmd.Name(), err)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse %v: %w", cmd.Args(), err)
	}
	return v, nil
}

var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Ledger = (*RedisLedger)(nil)
	_ Ledger = Unlimited{}
)
