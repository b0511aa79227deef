package arbitrage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"triarb/internal/config"
	"triarb/internal/database"
	"triarb/internal/exchange"
	"triarb/internal/model"
)

// Executor runs the legs of a single opportunity.
type Executor interface {
	Execute(ctx context.Context, opp *model.Opportunity, size model.OrderSize) model.ExecutionResult
}

// Report is the outcome of one scan pass.
type Report struct {
	Opportunities []model.Opportunity
	Executions    []model.ExecutionResult
	Elapsed       time.Duration
}

// ArbitrageEngine ties detection to execution: it scans a snapshot provider,
// reports what it found and hands the best opportunities to the executor.
type ArbitrageEngine struct {
	logger   *slog.Logger
	repo     database.Repository
	cfg      *config.Config
	detector *Detector
	provider exchange.SnapshotProvider
	executor Executor
}

// NewArbitrageEngine creates a new instance of the ArbitrageEngine.
// A nil executor disables execution regardless of configuration.
func NewArbitrageEngine(logger *slog.Logger, repo database.Repository, cfg *config.Config, detector *Detector, provider exchange.SnapshotProvider, executor Executor) *ArbitrageEngine {
	if repo == nil {
		repo = database.NopRepository{}
	}
	return &ArbitrageEngine{
		logger:   logger,
		repo:     repo,
		cfg:      cfg,
		detector: detector,
		provider: provider,
		executor: executor,
	}
}

// Run repeats scan passes every scanner interval until ctx is done.
// A failed pass is logged and the next one proceeds.
func (e *ArbitrageEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Scanner.Interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("Engine: scan pass failed", "exchange", e.provider.GetName(), "error", err)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Engine: stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single scan pass and, when execution is enabled, executes
// the top opportunities.
func (e *ArbitrageEngine) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	opps, err := e.detector.Scan(ctx, e.provider)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Opportunities: opps}
	e.report(opps)

	if e.executionEnabled() && len(opps) > 0 {
		n := e.cfg.Execution.MaxOpportunities
		if n <= 0 || n > len(opps) {
			n = len(opps)
		}
		rep.Executions = e.ExecuteAll(ctx, opps[:n])
	}

	rep.Elapsed = time.Since(start)
	if e.cfg.Scanner.Benchmark {
		e.logger.Info("Engine: pass timing", "elapsed", rep.Elapsed, "opportunities", len(opps))
	}
	return rep, nil
}

// ExecuteAll executes independent opportunities concurrently, at most
// max_concurrent_executions at a time, and records every result. Results are
// returned in the order of opps.
func (e *ArbitrageEngine) ExecuteAll(ctx context.Context, opps []model.Opportunity) []model.ExecutionResult {
	results := make([]model.ExecutionResult, len(opps))
	limit := e.cfg.Execution.MaxConcurrentExecutions
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	size := e.orderSize()
	for i := range opps {
		i := i
		g.Go(func() error {
			res := e.executor.Execute(ctx, &opps[i], size)
			results[i] = res
			// Record the result even when shutdown interrupted the pass.
			if err := e.repo.LogExecution(context.WithoutCancel(ctx), res); err != nil {
				e.logger.Error("Engine: failed to log execution", "execution", res.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *ArbitrageEngine) executionEnabled() bool {
	return e.executor != nil && e.cfg.Execution.Enabled
}

func (e *ArbitrageEngine) orderSize() model.OrderSize {
	return model.OrderSize{
		Amount: e.cfg.Execution.OrderSize,
		Mode:   model.SizingMode(e.cfg.Execution.Sizing),
	}
}

// report logs each opportunity as its trade sequence, then the best profit.
func (e *ArbitrageEngine) report(opps []model.Opportunity) {
	exchangeName := e.provider.GetName()
	if len(opps) == 0 {
		e.logger.Info("Engine: no opportunities found", "exchange", exchangeName)
		return
	}
	for _, o := range opps {
		e.logger.Info("Engine: opportunity found",
			"exchange", exchangeName,
			"rank", o.Rank,
			"cycle", o.Cycle.Key(),
			"trades", tradeSequence(o.Cycle),
			"profitPercent", o.ProfitPercent,
		)
	}
	e.logger.Info("Engine: best opportunity",
		"exchange", exchangeName,
		"cycle", opps[0].Cycle.Key(),
		"profitPercent", opps[0].ProfitPercent,
	)
}

// tradeSequence renders a cycle as "buy BTC/USDT, buy ETH/BTC, sell ETH/USDT".
func tradeSequence(c model.Cycle) string {
	parts := make([]string, len(c.Edges))
	for i, e := range c.Edges {
		parts[i] = string(e.Side) + " " + e.Symbol.String()
	}
	return strings.Join(parts, ", ")
}
