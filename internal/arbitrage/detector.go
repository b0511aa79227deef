package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"triarb/internal/exchange"
	"triarb/internal/graph"
	"triarb/internal/model"
)

// DetectorOptions configures a detection pass.
type DetectorOptions struct {
	Fees             graph.FeeSchedule
	ThresholdPercent float64
	MaxResults       int           // 0 returns every qualifying opportunity
	MaxSnapshotAge   time.Duration // 0 disables the staleness check
	Anchors          []string
}

// Detector finds ranked triangular opportunities in ticker snapshots.
// Detect is a pure function of its input and safe for concurrent use.
type Detector struct {
	logger *slog.Logger
	opts   DetectorOptions
	now    func() time.Time
}

// NewDetector creates a new Detector.
func NewDetector(logger *slog.Logger, opts DetectorOptions) *Detector {
	return &Detector{
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Detect builds the currency graph of snap and returns its ranked opportunities.
// An empty result means no opportunity and is not an error.
func (d *Detector) Detect(snap model.Snapshot) ([]model.Opportunity, error) {
	if d.opts.MaxSnapshotAge > 0 {
		if snap.Timestamp.IsZero() {
			return nil, fmt.Errorf("arbitrage: snapshot has no timestamp: %w", model.ErrStaleSnapshot)
		}
		if age := snap.Age(d.now()); age > d.opts.MaxSnapshotAge {
			return nil, fmt.Errorf("arbitrage: snapshot age %s exceeds %s: %w", age, d.opts.MaxSnapshotAge, model.ErrStaleSnapshot)
		}
	}

	g := graph.Build(snap, d.opts.Fees)
	stats := g.Stats()
	if stats.SkippedBids > 0 || stats.SkippedAsks > 0 {
		d.logger.Debug("Detector: skipped price sides",
			"exchange", snap.Exchange,
			"skippedBids", stats.SkippedBids,
			"skippedAsks", stats.SkippedAsks,
		)
	}

	cycles := FindCycles(g, d.opts.Anchors)
	opps := Rank(cycles, snap.Exchange, d.opts.ThresholdPercent, d.opts.MaxResults, snap.Timestamp)

	d.logger.Debug("Detector: pass complete",
		"exchange", snap.Exchange,
		"tickers", stats.Tickers,
		"currencies", g.Len(),
		"edges", stats.Edges,
		"cycles", len(cycles),
		"opportunities", len(opps),
	)
	return opps, nil
}

// Scan fetches exactly one snapshot from provider and detects on it. A failed
// fetch yields no opportunities.
func (d *Detector) Scan(ctx context.Context, provider exchange.SnapshotProvider) ([]model.Opportunity, error) {
	snap, err := provider.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: fetch %s snapshot: %w", provider.GetName(), err)
	}
	return d.Detect(snap)
}
