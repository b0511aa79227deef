package model

import (
	"strings"
	"time"
)

// RateEdge is a directed conversion From -> To executable on Symbol.
// Rate is in units of To per unit of From before fees.
type RateEdge struct {
	From       string
	To         string
	Symbol     Symbol
	Side       Side
	Price      float64 // bid for sell edges, ask for buy edges
	Rate       float64
	FeePercent float64
}

// NetRate returns the conversion rate after the taker fee is deducted.
func (e RateEdge) NetRate() float64 {
	return e.Rate * (1 - e.FeePercent/100)
}

// Cycle is a closed three-leg loop through three distinct currencies.
type Cycle struct {
	Edges         [3]RateEdge
	Reversed      bool
	ProfitPercent float64
}

// Start returns the currency the loop begins and ends with.
func (c Cycle) Start() string {
	return c.Edges[0].From
}

// Currencies returns the visited currencies in traversal order.
func (c Cycle) Currencies() [3]string {
	return [3]string{c.Edges[0].From, c.Edges[1].From, c.Edges[2].From}
}

// Symbols returns the markets touched, in leg order.
func (c Cycle) Symbols() [3]Symbol {
	return [3]Symbol{c.Edges[0].Symbol, c.Edges[1].Symbol, c.Edges[2].Symbol}
}

// Key is the currency path, e.g. "USDT>BTC>ETH".
func (c Cycle) Key() string {
	cur := c.Currencies()
	return strings.Join(cur[:], ">")
}

// CompoundedRate is the product of the three fee-net rates.
func (c Cycle) CompoundedRate() float64 {
	return c.Edges[0].NetRate() * c.Edges[1].NetRate() * c.Edges[2].NetRate()
}

// Closed reports whether the edges chain into a loop over three distinct
// currencies on three distinct markets.
func (c Cycle) Closed() bool {
	e := c.Edges
	if e[0].To != e[1].From || e[1].To != e[2].From || e[2].To != e[0].From {
		return false
	}
	a, b, d := e[0].From, e[1].From, e[2].From
	if a == b || b == d || d == a {
		return false
	}
	s := c.Symbols()
	return s[0] != s[1] && s[1] != s[2] && s[0] != s[2]
}

// Opportunity is a ranked, profitable cycle detected on one snapshot.
type Opportunity struct {
	ID            string
	Exchange      string
	Cycle         Cycle
	ProfitPercent float64
	Rank          int
	DetectedAt    time.Time
}
