package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db        DB
	defaults  map[Tier]TierDefaults
	baseDaily int64
}

func NewPostgresStore(db DB, defaults map[Tier]TierDefaults, baseDailyCents int64) Store {
	return &PostgresStore{db: db, defaults: defaults, baseDaily: baseDailyCents}
}

func (s *PostgresStore) GetBudgetState(ctx context.Context, tenantID string) (*BudgetState, error) {
	query := `
		SELECT id, tier, monthly_limit_cents, daily_limit_cents
		FROM tenants
		WHERE id = $1
	`
	var state BudgetState
	err := s.db.QueryRow(ctx, query, tenantID).Scan(
		&state.TenantID, &state.Tier, &state.MonthlyLimitCents, &state.DailyLimitCents,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget state: %w", err)
	}

	ApplyTierDefaults(&state, s.defaults, s.baseDaily)
	return &state, nil
}

func (s *PostgresStore) UpdateBudgetState(ctx context.Context, tenantID string, monthlyLimitCents, dailyLimitCents int64) error {
	query := `
		UPDATE tenants
		SET monthly_limit_cents = $2, daily_limit_cents = $3
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, tenantID, monthlyLimitCents, dailyLimitCents)
	if err != nil {
		return fmt.Errorf("failed to update budget state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return nil
}
