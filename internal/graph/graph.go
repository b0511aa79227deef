// Package graph turns a ticker snapshot into a directed currency conversion graph.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"triarb/internal/model"
)

// FeeSchedule holds taker fees in percent.
type FeeSchedule struct {
	DefaultPercent float64
	SymbolPercent  map[string]float64 // keyed by "BASE/QUOTE"
}

// For returns the fee percent charged on sym.
func (f FeeSchedule) For(sym model.Symbol) float64 {
	if p, ok := f.SymbolPercent[sym.String()]; ok {
		return p
	}
	return f.DefaultPercent
}

// NormalizeSymbolFees upper-cases fee keys and drops unparsable ones.
func NormalizeSymbolFees(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		sym, err := model.ParseSymbol(strings.ToUpper(k))
		if err != nil {
			continue
		}
		out[sym.String()] = v
	}
	return out
}

// Stats summarizes one build.
type Stats struct {
	Tickers     int
	Edges       int
	SkippedBids int
	SkippedAsks int
}

// Graph maps a currency to its outgoing conversions, one best edge per destination.
type Graph struct {
	edges map[string]map[string]model.RateEdge
	stats Stats
}

// Build creates a graph from snap. A ticker with a bid yields base->quote (sell
// at bid); a ticker with an ask yields quote->base (buy at ask, rate 1/ask).
// A missing or invalid side drops that direction only.
func Build(snap model.Snapshot, fees FeeSchedule) *Graph {
	g := &Graph{edges: make(map[string]map[string]model.RateEdge)}
	for _, t := range snap.Tickers {
		g.stats.Tickers++
		if !t.Symbol.Valid() {
			g.stats.SkippedBids++
			g.stats.SkippedAsks++
			continue
		}
		fee := fees.For(t.Symbol)
		if t.HasBid() {
			g.add(model.RateEdge{
				From:       t.Symbol.Base,
				To:         t.Symbol.Quote,
				Symbol:     t.Symbol,
				Side:       model.SideSell,
				Price:      t.Bid,
				Rate:       t.Bid,
				FeePercent: fee,
			})
		} else {
			g.stats.SkippedBids++
		}
		if t.HasAsk() {
			g.add(model.RateEdge{
				From:       t.Symbol.Quote,
				To:         t.Symbol.Base,
				Symbol:     t.Symbol,
				Side:       model.SideBuy,
				Price:      t.Ask,
				Rate:       1 / t.Ask,
				FeePercent: fee,
			})
		} else {
			g.stats.SkippedAsks++
		}
	}
	for _, out := range g.edges {
		g.stats.Edges += len(out)
	}
	return g
}

// add keeps the better of two edges for the same direction so the result does
// not depend on map iteration order.
func (g *Graph) add(e model.RateEdge) {
	out, ok := g.edges[e.From]
	if !ok {
		out = make(map[string]model.RateEdge)
		g.edges[e.From] = out
	}
	cur, exists := out[e.To]
	if exists {
		if cur.NetRate() > e.NetRate() {
			return
		}
		if cur.NetRate() == e.NetRate() && cur.Symbol.String() <= e.Symbol.String() {
			return
		}
	}
	out[e.To] = e
}

// Edge returns the conversion from -> to, or an ErrDataGap error.
func (g *Graph) Edge(from, to string) (model.RateEdge, error) {
	if e, ok := g.edges[from][to]; ok {
		return e, nil
	}
	return model.RateEdge{}, fmt.Errorf("graph: %s->%s: %w", from, to, model.ErrDataGap)
}

// Neighbors returns the outgoing edges of from, sorted by destination.
func (g *Graph) Neighbors(from string) []model.RateEdge {
	out := g.edges[from]
	list := make([]model.RateEdge, 0, len(out))
	for _, e := range out {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].To < list[j].To })
	return list
}

// Currencies returns every currency with at least one outgoing edge, sorted.
func (g *Graph) Currencies() []string {
	list := make([]string, 0, len(g.edges))
	for c := range g.edges {
		list = append(list, c)
	}
	sort.Strings(list)
	return list
}

// Len returns the number of currencies with outgoing edges.
func (g *Graph) Len() int {
	return len(g.edges)
}

// Stats returns counters collected while building.
func (g *Graph) Stats() Stats {
	return g.stats
}
