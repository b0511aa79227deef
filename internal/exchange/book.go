package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"triarb/internal/model"
)

// Book keeps the latest top-of-book ticker per symbol for one exchange.
// It is written by stream goroutines and read as whole snapshots.
type Book struct {
	mu       sync.RWMutex
	exchange string
	tickers  map[string]model.Ticker
	updated  time.Time
	logger   *slog.Logger
	now      func() time.Time
}

// NewBook creates an empty Book for the named exchange.
func NewBook(exchange string, logger *slog.Logger) *Book {
	return &Book{
		exchange: exchange,
		tickers:  make(map[string]model.Ticker),
		logger:   logger,
		now:      time.Now,
	}
}

func (b *Book) GetName() string {
	return b.exchange
}

// Update stores t as the latest ticker for its symbol.
func (b *Book) Update(t model.Ticker) {
	now := b.now()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	b.mu.Lock()
	b.tickers[t.Symbol.String()] = t
	b.updated = now
	b.mu.Unlock()
}

// Consume applies ticks from tickChan until ctx is cancelled or the channel closes.
func (b *Book) Consume(ctx context.Context, tickChan <-chan model.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Book: context cancelled, stopping", "exchange", b.exchange)
			return nil
		case t, ok := <-tickChan:
			if !ok {
				return nil
			}
			b.Update(t)
		}
	}
}

// Snapshot returns a copy of the book. Its timestamp is the time of the last
// update, so a stalled stream shows up as a stale snapshot.
func (b *Book) Snapshot(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.tickers) == 0 {
		return model.Snapshot{}, model.ErrEmptySnapshot
	}
	snap := model.NewSnapshot(b.exchange, b.updated)
	for k, t := range b.tickers {
		snap.Tickers[k] = t
	}
	return snap, nil
}

// Len returns the number of symbols in the book.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tickers)
}
