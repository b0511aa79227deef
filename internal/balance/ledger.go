// Package balance guards available balance per currency so concurrent
// executions cannot spend the same funds twice.
package balance

import (
	"context"
	"fmt"
	"sync"

	"triarb/internal/model"
)

// tolerance absorbs float rounding when comparing balances.
const tolerance = 1e-12

// Ledger reserves funds before a leg is submitted and books the resulting transfer.
type Ledger interface {
	// Reserve sets amount of currency aside. The returned release func frees
	// the reservation and is safe to call more than once.
	Reserve(ctx context.Context, currency string, amount float64) (release func(), err error)
	// Transfer books a fill: spent leaves from, received arrives in to.
	Transfer(ctx context.Context, from string, spent float64, to string, received float64) error
}

// MemoryLedger is a single-process Ledger guarded by a mutex.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]float64
	reserved map[string]float64
}

// NewMemoryLedger creates a ledger seeded with initial balances.
func NewMemoryLedger(initial map[string]float64) *MemoryLedger {
	l := &MemoryLedger{
		balances: make(map[string]float64, len(initial)),
		reserved: make(map[string]float64),
	}
	for c, v := range initial {
		l.balances[c] = v
	}
	return l
}

func (l *MemoryLedger) Reserve(ctx context.Context, currency string, amount float64) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("balance: reserve %v %s: %w", amount, currency, model.ErrInvalidOrderSize)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	available := l.balances[currency] - l.reserved[currency]
	if amount > available+tolerance {
		return nil, fmt.Errorf("balance: reserve %v %s, available %v: %w", amount, currency, available, model.ErrInsufficientBalance)
	}
	l.reserved[currency] += amount

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.reserved[currency] -= amount
			if l.reserved[currency] < tolerance {
				delete(l.reserved, currency)
			}
			l.mu.Unlock()
		})
	}, nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, from string, spent float64, to string, received float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[from] -= spent
	l.balances[to] += received
	return nil
}

// Balance returns the booked balance of currency.
func (l *MemoryLedger) Balance(currency string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[currency]
}

// Available returns the balance of currency not held by a reservation.
func (l *MemoryLedger) Available(currency string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[currency] - l.reserved[currency]
}

// Unlimited is a Ledger that never refuses a reservation. It is used when
// balance tracking is disabled.
type Unlimited struct{}

func (Unlimited) Reserve(context.Context, string, float64) (func(), error) {
	return func() {}, nil
}

func (Unlimited) Transfer(context.Context, string, float64, string, float64) error {
	return nil
}
