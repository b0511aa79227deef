package database

import (
	"context"
	"strings"

	"triarb/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	LogExecution(ctx context.Context, exec model.ExecutionResult) error
}

// NopRepository discards everything. It is used when no database is configured.
type NopRepository struct{}

func (NopRepository) Migrate(context.Context) error { return nil }

func (NopRepository) LogExecution(context.Context, model.ExecutionResult) error { return nil }

func joinTransitions(states []model.ExecutionState) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func legError(l model.LegResult) string {
	if l.Err == nil {
		return ""
	}
	return l.Err.Error()
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
	_ Repository = NopRepository{}
)
