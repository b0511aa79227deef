// Package execution turns a detected opportunity into three sequential
// market orders and records what happened to each of them.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"triarb/internal/balance"
	"triarb/internal/model"
)

// OrderSubmitter places a single market order.
// A definite refusal is an OrderOutcome with status REJECTED and a nil error.
// An error wrapping ErrLegAmbiguous, or a timeout or cancellation of the leg,
// means the order may have executed; any other error is taken as the order
// never reaching the venue.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderOutcome, error)
}

// Options tunes the pipeline.
type Options struct {
	LegTimeout           time.Duration
	QuantityStep         float64
	FillTolerancePercent float64
}

// Pipeline executes the legs of an opportunity strictly in order and stops
// at the first leg that does not fill. Legs are never retried.
type Pipeline struct {
	submitter OrderSubmitter
	ledger    balance.Ledger
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewPipeline creates a Pipeline. A nil ledger disables balance tracking.
func NewPipeline(submitter OrderSubmitter, ledger balance.Ledger, logger *slog.Logger, opts Options) *Pipeline {
	if ledger == nil {
		ledger = balance.Unlimited{}
	}
	return &Pipeline{
		submitter: submitter,
		ledger:    ledger,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Execute runs opp sized by size. It always returns a result; failures are
// reported through the result's status, legs and Err rather than a second
// return value. Cancelling ctx stops the pipeline before the next leg but
// never interrupts a leg already submitted.
func (p *Pipeline) Execute(ctx context.Context, opp *model.Opportunity, size model.OrderSize) model.ExecutionResult {
	res := model.ExecutionResult{
		ID:          uuid.New().String(),
		State:       model.StatePending,
		Transitions: []model.ExecutionState{model.StatePending},
		StartedAt:   p.now(),
	}
	if opp == nil {
		res.Status = model.ExecNoOpportunity
		res.State = model.StateNoneFilled
		res.Transitions = append(res.Transitions, model.StateNoneFilled)
		res.CompletedAt = p.now()
		return res
	}

	res.OpportunityID = opp.ID
	res.Exchange = opp.Exchange
	res.CycleKey = opp.Cycle.Key()
	res.ProfitPercent = opp.ProfitPercent
	res.StartCurrency = opp.Cycle.Start()
	log := p.logger.With("execution", res.ID, "opportunity", opp.ID, "cycle", res.CycleKey)

	plan, err := Plan(*opp, size, p.opts.QuantityStep)
	res.Legs = make([]model.LegResult, len(plan))
	for i := range plan {
		res.Legs[i] = model.LegResult{Instruction: plan[i], Status: model.LegUnattempted}
	}
	if err != nil {
		log.Warn("Pipeline: cannot plan execution", "error", err)
		res.Err = err
		return p.finish(res, log)
	}
	res.StartAmount = plan[0].InputAmount

	input := size.Amount
	for i := range plan {
		edge := opp.Cycle.Edges[i]
		instr := plan[i]
		if i > 0 {
			// Later legs are resized from what the previous leg actually delivered.
			instr = instruction(i, edge, input, size, p.opts.QuantityStep)
			res.Legs[i].Instruction = instr
			if instr.Quantity <= 0 {
				res.Err = fmt.Errorf("execution: leg %d %s rounds to zero: %w", i+1, edge.Symbol, model.ErrInvalidOrderSize)
				break
			}
		}

		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("execution: before leg %d: %w: %w", i+1, model.ErrCancelled, err)
			log.Warn("Pipeline: cancelled between legs", "leg", i+1)
			break
		}

		release, err := p.ledger.Reserve(ctx, instr.From, instr.InputAmount)
		if err != nil {
			res.Legs[i].Err = err
			res.Err = fmt.Errorf("execution: leg %d: %w", i+1, err)
			log.Warn("Pipeline: reservation failed", "leg", i+1, "currency", instr.From, "amount", instr.InputAmount, "error", err)
			break
		}

		p.transition(&res, model.LegSubmitted(i+1), log)
		leg := p.submit(ctx, res.ID, instr, edge)
		res.Legs[i] = leg

		// Book the fill before the reservation is freed so the spent funds
		// never show as available in between.
		if leg.FilledQuantity > 0 {
			if err := p.ledger.Transfer(context.WithoutCancel(ctx), instr.From, leg.Spent, instr.To, leg.Received); err != nil {
				log.Error("Pipeline: failed to book fill", "leg", i+1, "error", err)
			}
		}
		if leg.Status == model.LegAmbiguous {
			// The order may have executed: the funds stay reserved until reconciled.
			log.Warn("Pipeline: keeping reservation of ambiguous leg", "leg", i+1, "currency", instr.From, "amount", instr.InputAmount)
		} else {
			release()
		}

		if leg.Status != model.LegFilled {
			p.transition(&res, model.LegFailedState(i+1, leg.Status), log)
			res.Err = leg.Err
			log.Warn("Pipeline: leg did not fill, halting",
				"leg", i+1,
				"symbol", instr.Symbol.String(),
				"side", instr.Side,
				"status", leg.Status,
				"error", leg.Err,
			)
			break
		}
		p.transition(&res, model.LegFilledState(i+1), log)
		log.Info("Pipeline: leg filled",
			"leg", i+1,
			"symbol", instr.Symbol.String(),
			"side", instr.Side,
			"quantity", leg.FilledQuantity,
			"price", leg.AvgPrice,
			"received", leg.Received,
		)
		input = leg.Received
	}
	return p.finish(res, log)
}

// submit sends one leg under the leg timeout and classifies the outcome.
func (p *Pipeline) submit(ctx context.Context, execID string, instr model.LegInstruction, edge model.RateEdge) model.LegResult {
	leg := model.LegResult{Instruction: instr}

	legCtx := context.WithoutCancel(ctx)
	if p.opts.LegTimeout > 0 {
		var cancel context.CancelFunc
		legCtx, cancel = context.WithTimeout(legCtx, p.opts.LegTimeout)
		defer cancel()
	}

	req := model.OrderRequest{
		Symbol:        instr.Symbol,
		Side:          instr.Side,
		Quantity:      instr.Quantity,
		ClientOrderID: clientOrderID(execID, instr.Index),
	}
	outcome, err := p.submitter.SubmitOrder(legCtx, req)
	leg.Reference = outcome.Reference
	label := fmt.Sprintf("execution: leg %d %s %s", instr.Index+1, instr.Side, instr.Symbol)

	switch {
	case err != nil && ambiguous(legCtx, err):
		leg.Status = model.LegAmbiguous
		leg.Err = fmt.Errorf("%s: %w: %w", label, model.ErrLegAmbiguous, err)
	case err != nil:
		leg.Status = model.LegError
		leg.Err = fmt.Errorf("%s: %w", label, err)
	case outcome.Status == model.OrderFilled || outcome.Status == model.OrderPartiallyFilled:
		sent := instr.Quantity
		if outcome.SubmittedQuantity > 0 {
			sent = outcome.SubmittedQuantity
		}
		filled := outcome.FilledQuantity
		if filled <= 0 && outcome.Status == model.OrderFilled {
			filled = sent
		}
		leg.FilledQuantity = filled
		leg.AvgPrice = outcome.AvgPrice
		if !model.ValidPrice(leg.AvgPrice) {
			leg.AvgPrice = edge.Price
		}
		leg.Spent, leg.Received = settle(edge, filled, outcome.AvgPrice)

		minFill := sent * (1 - p.opts.FillTolerancePercent/100)
		switch {
		case filled >= minFill:
			leg.Status = model.LegFilled
		case filled > 0:
			leg.Status = model.LegPartiallyFilled
			leg.Err = fmt.Errorf("%s: filled %v of %v: %w", label, filled, sent, model.ErrLegNotFilled)
		default:
			leg.Status = model.LegError
			leg.Err = fmt.Errorf("%s: reported %s with nothing filled", label, outcome.Status)
		}
	case outcome.Status == model.OrderRejected:
		leg.Status = model.LegRejected
		leg.Err = fmt.Errorf("%s: %w: %s", label, model.ErrLegRejected, outcome.Message)
	default:
		leg.Status = model.LegError
		leg.Err = fmt.Errorf("%s: %s: %s", label, outcome.Status, outcome.Message)
	}
	return leg
}

// finish derives the aggregate status from the legs.
func (p *Pipeline) finish(res model.ExecutionResult, log *slog.Logger) model.ExecutionResult {
	var filled, partial, unknown int
	for _, l := range res.Legs {
		switch l.Status {
		case model.LegFilled:
			filled++
		case model.LegPartiallyFilled:
			partial++
		case model.LegAmbiguous:
			unknown++
		}
	}

	switch {
	case len(res.Legs) > 0 && filled == len(res.Legs):
		res.Status = model.ExecAllFilled
		p.transition(&res, model.StateAllFilled, log)
		res.EndAmount = res.Legs[len(res.Legs)-1].Received
	case filled == 0 && partial == 0 && unknown == 0:
		res.Status = model.ExecNoneFilled
		p.transition(&res, model.StateNoneFilled, log)
	default:
		res.Status = model.ExecPartial
		res.NeedsReconciliation = true
		p.transition(&res, model.StateHalted, log)
	}
	res.CompletedAt = p.now()

	if res.NeedsReconciliation {
		log.Error("Pipeline: execution halted with open positions, manual reconciliation required",
			"filled_legs", filled,
			"state", res.State,
			"error", res.Err,
		)
	} else {
		log.Info("Pipeline: execution finished",
			"status", res.Status,
			"start_amount", res.StartAmount,
			"end_amount", res.EndAmount,
			"duration", res.CompletedAt.Sub(res.StartedAt),
		)
	}
	return res
}

func (p *Pipeline) transition(res *model.ExecutionResult, s model.ExecutionState, log *slog.Logger) {
	res.State = s
	res.Transitions = append(res.Transitions, s)
	log.Debug("Pipeline: state transition", "state", s)
}

// ambiguous reports whether err leaves the order's fate unknown.
func ambiguous(legCtx context.Context, err error) bool {
	return errors.Is(err, model.ErrLegAmbiguous) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		legCtx.Err() != nil
}

// clientOrderID is unique per leg and fits the 36 character limit exchanges impose.
func clientOrderID(execID string, index int) string {
	return fmt.Sprintf("%s-%d", strings.ReplaceAll(execID, "-", ""), index+1)
}
