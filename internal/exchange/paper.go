package exchange

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"triarb/internal/model"
)

// PaperTrader simulates market orders against the current top of book.
// Sells fill at the bid, buys at the ask; a missing side rejects the order.
type PaperTrader struct {
	logger   *slog.Logger
	provider SnapshotProvider
}

// NewPaperTrader creates a PaperTrader reading prices from provider.
func NewPaperTrader(logger *slog.Logger, provider SnapshotProvider) *PaperTrader {
	return &PaperTrader{logger: logger, provider: provider}
}

// SubmitOrder fills req in full at the current best price.
func (p *PaperTrader) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderOutcome, error) {
	if req.Quantity <= 0 {
		return model.OrderOutcome{Status: model.OrderRejected, Message: "quantity must be positive"}, nil
	}
	snap, err := p.provider.Snapshot(ctx)
	if err != nil {
		return model.OrderOutcome{Status: model.OrderError, Message: err.Error()}, nil
	}
	t, ok := snap.Tickers[req.Symbol.String()]
	if !ok {
		return model.OrderOutcome{Status: model.OrderRejected, Message: fmt.Sprintf("%s: %s", req.Symbol, model.ErrUnknownSymbol)}, nil
	}

	price := t.Bid
	if req.Side == model.SideBuy {
		price = t.Ask
	}
	if !model.ValidPrice(price) {
		return model.OrderOutcome{Status: model.OrderRejected, Message: "no liquidity on " + string(req.Side) + " side"}, nil
	}

	ref := "paper-" + uuid.New().String()
	p.logger.Info("PaperTrader: simulated fill",
		"symbol", req.Symbol.String(),
		"side", req.Side,
		"quantity", req.Quantity,
		"price", price,
		"reference", ref,
	)
	return model.OrderOutcome{
		Status:            model.OrderFilled,
		SubmittedQuantity: req.Quantity,
		FilledQuantity:    req.Quantity,
		AvgPrice:          price,
		Reference:         ref,
	}, nil
}
