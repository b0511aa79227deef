package model

import (
	"sort"
	"time"
)

// Ticker is the best bid/ask of one market at a point in time.
// A zero or negative price means that side of the book is absent.
type Ticker struct {
	Symbol    Symbol
	Bid       float64
	Ask       float64
	Volume    float64
	Timestamp time.Time
}

// HasBid reports whether the bid side is usable.
func (t Ticker) HasBid() bool { return ValidPrice(t.Bid) }

// HasAsk reports whether the ask side is usable.
func (t Ticker) HasAsk() bool { return ValidPrice(t.Ask) }

// Snapshot is a point-in-time capture of top-of-book prices on one exchange.
type Snapshot struct {
	Exchange  string
	Timestamp time.Time
	Tickers   map[string]Ticker
}

// NewSnapshot creates an empty snapshot for the given exchange.
func NewSnapshot(exchange string, ts time.Time) Snapshot {
	return Snapshot{
		Exchange:  exchange,
		Timestamp: ts,
		Tickers:   make(map[string]Ticker),
	}
}

// Add stores a ticker, replacing any previous ticker for the same symbol.
func (s *Snapshot) Add(t Ticker) {
	if s.Tickers == nil {
		s.Tickers = make(map[string]Ticker)
	}
	s.Tickers[t.Symbol.String()] = t
}

// Len returns the number of tickers.
func (s Snapshot) Len() int {
	return len(s.Tickers)
}

// Symbols returns the ticker keys in sorted order.
func (s Snapshot) Symbols() []string {
	keys := make([]string, 0, len(s.Tickers))
	for k := range s.Tickers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Age returns how old the snapshot is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := NewSnapshot(s.Exchange, s.Timestamp)
	for k, t := range s.Tickers {
		c.Tickers[k] = t
	}
	return c
}
