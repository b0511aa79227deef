package execution

import (
	"fmt"
	"math"

	"triarb/internal/model"
)

// Plan derives the three leg instructions of opp in cycle order, propagating
// the expected amounts through each leg. The side of every leg comes from its
// own edge: selling the base when the edge leaves the base, buying it otherwise.
func Plan(opp model.Opportunity, size model.OrderSize, step float64) ([3]model.LegInstruction, error) {
	var legs [3]model.LegInstruction
	if !(size.Amount > 0) || math.IsInf(size.Amount, 0) {
		return legs, fmt.Errorf("execution: amount %v: %w", size.Amount, model.ErrInvalidOrderSize)
	}
	if size.Mode != model.SizeNotional && size.Mode != model.SizeFixed {
		return legs, fmt.Errorf("execution: sizing mode %q: %w", size.Mode, model.ErrInvalidOrderSize)
	}
	if !opp.Cycle.Closed() {
		return legs, fmt.Errorf("execution: cycle %s does not close", opp.Cycle.Key())
	}

	input := size.Amount
	for i, e := range opp.Cycle.Edges {
		legs[i] = instruction(i, e, input, size, step)
		if legs[i].Quantity <= 0 {
			return legs, fmt.Errorf("execution: leg %d %s rounds to zero: %w", i+1, e.Symbol, model.ErrInvalidOrderSize)
		}
		input = expectedOutput(legs[i], e)
	}
	return legs, nil
}

// instruction sizes leg i given input units of its From currency.
func instruction(i int, e model.RateEdge, input float64, size model.OrderSize, step float64) model.LegInstruction {
	var qty float64
	switch {
	case size.Mode == model.SizeFixed:
		qty = size.Amount
	case e.Side == model.SideSell:
		qty = input
	default:
		qty = input * e.Rate
	}
	qty = floorToStep(qty, step)

	spend := qty
	if e.Side == model.SideBuy {
		spend = qty * e.Price
	}
	return model.LegInstruction{
		Index:        i,
		Symbol:       e.Symbol,
		Side:         e.Side,
		Quantity:     qty,
		From:         e.From,
		To:           e.To,
		InputAmount:  spend,
		ExpectedRate: e.NetRate(),
	}
}

func expectedOutput(l model.LegInstruction, e model.RateEdge) float64 {
	net := 1 - e.FeePercent/100
	if l.Side == model.SideSell {
		return l.Quantity * e.Price * net
	}
	return l.Quantity * net
}

// settle converts a fill into the amounts debited and credited.
func settle(e model.RateEdge, filled, avgPrice float64) (spent, received float64) {
	price := avgPrice
	if !model.ValidPrice(price) {
		price = e.Price
	}
	net := 1 - e.FeePercent/100
	if e.Side == model.SideSell {
		return filled, filled * price * net
	}
	return filled * price, filled * net
}

func floorToStep(q, step float64) float64 {
	if step <= 0 {
		return q
	}
	return math.Floor(q/step+1e-9) * step
}
