package database

import (
	"errors"
	"time"

	"triarb/internal/model"
)

func sampleExecution(id string) model.ExecutionResult {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	leg := func(i int, sym model.Symbol, side model.Side, from, to string, status model.LegStatus) model.LegResult {
		return model.LegResult{
			Instruction: model.LegInstruction{Index: i, Symbol: sym, Side: side, Quantity: 0.02, From: from, To: to, InputAmount: 1000, ExpectedRate: 0.5},
			Status:      status,
		}
	}
	legs := []model.LegResult{
		leg(0, model.NewSymbol("BTC", "USDT"), model.SideBuy, "USDT", "BTC", model.LegFilled),
		leg(1, model.NewSymbol("ETH", "BTC"), model.SideBuy, "BTC", "ETH", model.LegRejected),
		leg(2, model.NewSymbol("ETH", "USDT"), model.SideSell, "ETH", "USDT", model.LegUnattempted),
	}
	legs[0].FilledQuantity = 0.02
	legs[0].AvgPrice = 50010
	legs[0].Spent = 1000.2
	legs[0].Received = 0.01998
	legs[0].Reference = "12345"
	legs[1].Err = errors.New("leg rejected by exchange: insufficient funds")

	return model.ExecutionResult{
		ID:                  id,
		OpportunityID:       "opp-" + id,
		Exchange:            "binance",
		CycleKey:            "USDT>BTC>ETH",
		ProfitPercent:       0.084,
		StartCurrency:       "USDT",
		StartAmount:         1000.2,
		Status:              model.ExecPartial,
		State:               model.StateHalted,
		Transitions:         []model.ExecutionState{model.StatePending, "LEG1_SUBMITTED", "LEG1_FILLED", "LEG2_SUBMITTED", "LEG2_REJECTED", model.StateHalted},
		Legs:                legs,
		NeedsReconciliation: true,
		Err:                 legs[1].Err,
		StartedAt:           started,
		CompletedAt:         started.Add(150 * time.Millisecond),
	}
}
