package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"triarb/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	opportunity_id TEXT NOT NULL,
	exchange TEXT NOT NULL,
	cycle_key TEXT NOT NULL,
	profit_percent REAL NOT NULL,
	start_currency TEXT NOT NULL,
	start_amount REAL NOT NULL,
	end_amount REAL NOT NULL,
	status TEXT NOT NULL,
	state TEXT NOT NULL,
	transitions TEXT NOT NULL,
	needs_reconciliation INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	completed_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_legs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	leg_index INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	from_currency TEXT NOT NULL,
	to_currency TEXT NOT NULL,
	expected_rate REAL NOT NULL,
	status TEXT NOT NULL,
	filled_quantity REAL NOT NULL,
	avg_price REAL NOT NULL,
	spent REAL NOT NULL,
	received REAL NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);`

// SQLiteRepository stores execution records in a local SQLite file.
type SQLiteRepository struct {
	DB *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return &SQLiteRepository{DB: db}, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.DB.Close()
}

func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// LogExecution inserts an execution and its legs in one transaction.
func (r *SQLiteRepository) LogExecution(ctx context.Context, exec model.ExecutionResult) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (id, opportunity_id, exchange, cycle_key, profit_percent, start_currency, start_amount, end_amount, status, state, transitions, needs_reconciliation, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.OpportunityID, exec.Exchange, exec.CycleKey, exec.ProfitPercent,
		exec.StartCurrency, exec.StartAmount, exec.EndAmount, string(exec.Status), string(exec.State),
		joinTransitions(exec.Transitions), exec.NeedsReconciliation, exec.ErrorString(),
		exec.StartedAt.UTC(), exec.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert execution: %w", err)
	}

	for _, leg := range exec.Legs {
		in := leg.Instruction
		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_legs (execution_id, leg_index, symbol, side, quantity, from_currency, to_currency, expected_rate, status, filled_quantity, avg_price, spent, received, reference, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.ID, in.Index, in.Symbol.String(), string(in.Side), in.Quantity, in.From, in.To, in.ExpectedRate,
			string(leg.Status), leg.FilledQuantity, leg.AvgPrice, leg.Spent, leg.Received, leg.Reference, legError(leg),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert execution_leg: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}
