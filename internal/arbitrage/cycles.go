package arbitrage

import (
	"strings"

	"triarb/internal/graph"
	"triarb/internal/model"
)

// FindCycles enumerates every profitable three-currency loop in g.
//
// Each triangle is evaluated in both orientations. Rotations of the same
// oriented loop are collapsed by only emitting the rotation that starts at the
// preferred currency: the first anchor present in the triangle, or the
// lexicographically smallest currency when no anchor applies.
func FindCycles(g *graph.Graph, anchors []string) []model.Cycle {
	anchors = normalizeAnchors(anchors)
	var cycles []model.Cycle
	for _, x := range g.Currencies() {
		for _, e1 := range g.Neighbors(x) {
			y := e1.To
			if y == x {
				continue
			}
			for _, e2 := range g.Neighbors(y) {
				z := e2.To
				if z == x || z == y {
					continue
				}
				if preferredStart(x, y, z, anchors) != x {
					continue
				}
				e3, err := g.Edge(z, x)
				if err != nil {
					// Data gap: the closing direction is not quoted.
					continue
				}
				c := model.Cycle{Edges: [3]model.RateEdge{e1, e2, e3}}
				if !c.Closed() {
					continue
				}
				c.ProfitPercent = (c.CompoundedRate() - 1) * 100
				if c.ProfitPercent <= 0 {
					continue
				}
				c.Reversed = y > z
				cycles = append(cycles, c)
			}
		}
	}
	return cycles
}

func preferredStart(x, y, z string, anchors []string) string {
	for _, a := range anchors {
		if a == x || a == y || a == z {
			return a
		}
	}
	min := x
	if y < min {
		min = y
	}
	if z < min {
		min = z
	}
	return min
}

func normalizeAnchors(anchors []string) []string {
	out := make([]string, 0, len(anchors))
	for _, a := range anchors {
		if a = strings.ToUpper(strings.TrimSpace(a)); a != "" {
			out = append(out, a)
		}
	}
	return out
}
