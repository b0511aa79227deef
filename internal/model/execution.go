package model

import (
	"strconv"
	"time"
)

// SizingMode selects how leg quantities are derived from an OrderSize.
type SizingMode string

const (
	// SizeNotional expresses Amount in the cycle's start currency and carries it through each leg.
	SizeNotional SizingMode = "notional"
	// SizeFixed uses Amount as the base quantity of every leg.
	SizeFixed SizingMode = "fixed"
)

// OrderSize is the amount an execution is sized with.
type OrderSize struct {
	Amount float64
	Mode   SizingMode
}

// OrderRequest is a single market order handed to an order submitter.
type OrderRequest struct {
	Symbol        Symbol
	Side          Side
	Quantity      float64
	ClientOrderID string
}

// OrderStatus is the exchange-reported outcome of a submitted order.
type OrderStatus string

const (
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderError           OrderStatus = "ERROR"
)

// OrderOutcome is what an order submitter reports back.
type OrderOutcome struct {
	Status OrderStatus
	// SubmittedQuantity is the quantity the venue accepted after its own
	// lot-size rounding. Zero means the requested quantity was sent as is.
	SubmittedQuantity float64
	FilledQuantity    float64
	AvgPrice       float64
	Reference      string
	Message        string
}

// LegInstruction is one resolved trade of a cycle.
type LegInstruction struct {
	Index        int
	Symbol       Symbol
	Side         Side
	Quantity     float64
	From         string
	To           string
	InputAmount  float64 // amount of From spent
	ExpectedRate float64 // fee-net From -> To rate
}

// LegStatus is the per-leg outcome of an execution.
type LegStatus string

const (
	LegFilled          LegStatus = "FILLED"
	LegPartiallyFilled LegStatus = "PARTIALLY_FILLED"
	LegRejected        LegStatus = "REJECTED"
	LegError           LegStatus = "ERROR"
	LegAmbiguous       LegStatus = "AMBIGUOUS"
	LegUnattempted     LegStatus = "UNATTEMPTED"
)

// LegResult records what happened to one leg.
type LegResult struct {
	Instruction    LegInstruction
	Status         LegStatus
	FilledQuantity float64
	AvgPrice       float64
	Spent          float64 // amount of From debited
	Received       float64 // amount of To credited, net of fee
	Reference      string
	Err            error
}

// ExecutionStatus is the aggregate outcome of an execution.
type ExecutionStatus string

const (
	ExecAllFilled     ExecutionStatus = "ALL_FILLED"
	ExecPartial       ExecutionStatus = "PARTIAL"
	ExecNoneFilled    ExecutionStatus = "NONE_FILLED"
	ExecNoOpportunity ExecutionStatus = "NO_OPPORTUNITY"
)

// ExecutionState is a step of the per-opportunity execution state machine.
type ExecutionState string

const (
	StatePending    ExecutionState = "PENDING"
	StateAllFilled  ExecutionState = "ALL_FILLED"
	StateHalted     ExecutionState = "HALTED"
	StateNoneFilled ExecutionState = "NONE_FILLED"
)

// LegSubmitted returns the state entered when leg n (1-based) is sent.
func LegSubmitted(n int) ExecutionState {
	return ExecutionState("LEG" + strconv.Itoa(n) + "_SUBMITTED")
}

// LegFilledState returns the state entered when leg n (1-based) fills.
func LegFilledState(n int) ExecutionState {
	return ExecutionState("LEG" + strconv.Itoa(n) + "_FILLED")
}

// LegFailedState returns the state entered when leg n (1-based) does not fill.
func LegFailedState(n int, status LegStatus) ExecutionState {
	return ExecutionState("LEG" + strconv.Itoa(n) + "_" + string(status))
}

// ExecutionResult is the retained record of one opportunity's execution.
type ExecutionResult struct {
	ID                  string          `db:"id"`
	OpportunityID       string          `db:"opportunity_id"`
	Exchange            string          `db:"exchange"`
	CycleKey            string          `db:"cycle_key"`
	ProfitPercent       float64         `db:"profit_percent"`
	StartCurrency       string          `db:"start_currency"`
	StartAmount         float64         `db:"start_amount"`
	EndAmount           float64         `db:"end_amount"`
	Status              ExecutionStatus `db:"status"`
	State               ExecutionState  `db:"state"`
	Transitions         []ExecutionState
	Legs                []LegResult
	NeedsReconciliation bool      `db:"needs_reconciliation"`
	Err                 error     `db:"-"`
	StartedAt           time.Time `db:"started_at"`
	CompletedAt         time.Time `db:"completed_at"`
}

// FilledLegs counts legs that filled completely.
func (r ExecutionResult) FilledLegs() int {
	n := 0
	for _, l := range r.Legs {
		if l.Status == LegFilled {
			n++
		}
	}
	return n
}

// ErrorString returns the execution error text or "".
func (r ExecutionResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
