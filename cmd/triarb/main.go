// Command triarb scans one exchange for triangular arbitrage and optionally
// executes the best opportunities.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"triarb/internal/arbitrage"
	"triarb/internal/balance"
	"triarb/internal/config"
	"triarb/internal/database"
	"triarb/internal/exchange"
	"triarb/internal/execution"
	"triarb/internal/graph"
	"triarb/internal/model"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	once := flag.Bool("once", false, "run a single scan pass and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("triarb starting",
		"exchange", cfg.Scanner.Exchange,
		"source", cfg.Scanner.Source,
		"execution", cfg.Execution.Enabled,
		"mode", cfg.Execution.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, &cfg, *once); err != nil {
		logger.Error("triarb exited with error", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("triarb stopped")
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, once bool) error {
	exCfg := cfg.Exchange()
	client, err := exchange.NewClient(cfg.Scanner.Exchange, logger, &exCfg)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var provider exchange.SnapshotProvider
	switch cfg.Scanner.Source {
	case "rest":
		p, ok := client.(exchange.SnapshotProvider)
		if !ok {
			return fmt.Errorf("exchange %s has no REST snapshot", client.GetName())
		}
		provider = p
	default:
		book := exchange.NewBook(client.GetName(), logger)
		ticks := make(chan model.Ticker, 1024)
		g.Go(func() error { return client.StartStream(gctx, ticks) })
		g.Go(func() error { return book.Consume(gctx, ticks) })
		provider = book
	}

	repo, closeRepo, err := newRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	var executor arbitrage.Executor
	if cfg.Execution.Enabled {
		submitter, err := newSubmitter(logger, cfg, client, provider)
		if err != nil {
			return err
		}
		ledger, closeLedger, err := newLedger(ctx, logger, cfg)
		if err != nil {
			return err
		}
		defer closeLedger()
		executor = execution.NewPipeline(submitter, ledger, logger, execution.Options{
			LegTimeout:           cfg.Execution.LegTimeout,
			QuantityStep:         cfg.Execution.QuantityStep,
			FillTolerancePercent: cfg.Execution.FillTolerancePercent,
		})
	}

	detector := arbitrage.NewDetector(logger, arbitrage.DetectorOptions{
		Fees: graph.FeeSchedule{
			DefaultPercent: exCfg.TakerFeePercent,
			SymbolPercent:  graph.NormalizeSymbolFees(exCfg.SymbolFees),
		},
		ThresholdPercent: cfg.Scanner.ThresholdPercent,
		MaxResults:       cfg.Scanner.MaxResults,
		MaxSnapshotAge:   cfg.Scanner.MaxSnapshotAge,
		Anchors:          cfg.Scanner.Anchors,
	})
	engine := arbitrage.NewArbitrageEngine(logger, repo, cfg, detector, provider, executor)

	if !once {
		g.Go(func() error { return engine.Run(gctx) })
		return g.Wait()
	}

	if cfg.Scanner.Source != "rest" {
		// Give the stream one interval to fill the book.
		select {
		case <-gctx.Done():
			return g.Wait()
		case <-time.After(cfg.Scanner.Interval):
		}
	}
	rep, err := engine.RunOnce(gctx)
	cancel()
	if waitErr := g.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	if err != nil {
		return err
	}
	logger.Info("triarb: pass complete",
		"opportunities", len(rep.Opportunities),
		"executions", len(rep.Executions),
		"elapsed", rep.Elapsed,
	)
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newRepository(ctx context.Context, cfg config.DatabaseConfig) (database.Repository, func(), error) {
	switch cfg.Driver {
	case "postgres":
		repo, err := database.NewPostgresRepository(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "sqlite":
		repo, err := database.NewSQLiteRepository(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return database.NopRepository{}, func() {}, nil
	}
}

func newSubmitter(logger *slog.Logger, cfg *config.Config, client exchange.ExchangeClient, provider exchange.SnapshotProvider) (execution.OrderSubmitter, error) {
	if cfg.Execution.Mode == "paper" {
		return exchange.NewPaperTrader(logger, provider), nil
	}
	live, ok := client.(execution.OrderSubmitter)
	if !ok {
		return nil, fmt.Errorf("live trading on %s: %w", client.GetName(), exchange.ErrUnsupported)
	}
	logger.Warn("triarb: LIVE trading enabled", "exchange", client.GetName())
	return live, nil
}

func newLedger(ctx context.Context, logger *slog.Logger, cfg *config.Config) (balance.Ledger, func(), error) {
	switch cfg.Execution.Ledger {
	case "memory":
		return balance.NewMemoryLedger(cfg.Balances), func() {}, nil
	case "redis":
		rdb, err := balance.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		closeRedis := func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("triarb: failed to close redis client", "error", err)
			}
		}
		l := balance.NewRedisLedger(rdb, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL, logger)
		if len(cfg.Balances) > 0 {
			if err := l.Seed(ctx, cfg.Balances); err != nil {
				closeRedis()
				return nil, nil, err
			}
		}
		return l, closeRedis, nil
	default:
		return balance.Unlimited{}, func() {}, nil
	}
}
