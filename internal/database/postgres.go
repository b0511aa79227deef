package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"triarb/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	exchange VARCHAR(50) NOT NULL,
	cycle_key VARCHAR(64) NOT NULL,
	profit_percent DOUBLE PRECISION NOT NULL,
	start_currency VARCHAR(20) NOT NULL,
	start_amount DOUBLE PRECISION NOT NULL,
	end_amount DOUBLE PRECISION NOT NULL,
	status VARCHAR(20) NOT NULL,
	state VARCHAR(32) NOT NULL,
	transitions TEXT NOT NULL,
	needs_reconciliation BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_legs (
	id SERIAL PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	leg_index INTEGER NOT NULL,
	symbol VARCHAR(20) NOT NULL,
	side VARCHAR(4) NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	from_currency VARCHAR(20) NOT NULL,
	to_currency VARCHAR(20) NOT NULL,
	expected_rate DOUBLE PRECISION NOT NULL,
	status VARCHAR(20) NOT NULL,
	filled_quantity DOUBLE PRECISION NOT NULL,
	avg_price DOUBLE PRECISION NOT NULL,
	spent DOUBLE PRECISION NOT NULL,
	received DOUBLE PRECISION NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_executions_reconcile ON executions (needs_reconciliation) WHERE needs_reconciliation;`

// PostgresRepository stores execution records in PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and pings the server.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// LogExecution inserts an execution and its legs in one transaction.
func (r *PostgresRepository) LogExecution(ctx context.Context, exec model.ExecutionResult) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, exchange, cycle_key, profit_percent, start_currency, start_amount, end_amount, status, state, transitions, needs_reconciliation, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		exec.ID, exec.OpportunityID, exec.Exchange, exec.CycleKey, exec.ProfitPercent,
		exec.StartCurrency, exec.StartAmount, exec.EndAmount, string(exec.Status), string(exec.State),
		joinTransitions(exec.Transitions), exec.NeedsReconciliation, exec.ErrorString(),
		exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}

	for _, leg := range exec.Legs {
		in := leg.Instruction
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, leg_index, symbol, side, quantity, from_currency, to_currency, expected_rate, status, filled_quantity, avg_price, spent, received, reference, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			exec.ID, in.Index, in.Symbol.String(), string(in.Side), in.Quantity, in.From, in.To, in.ExpectedRate,
			string(leg.Status), leg.FilledQuantity, leg.AvgPrice, leg.Spent, leg.Received, leg.Reference, legError(leg),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution_leg: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
