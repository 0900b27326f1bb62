package tenant

import (
	"context"
	"errors"
)

var ErrTenantNotFound = errors.New("tenant not found")

type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// BudgetState is a tenant's configured spending ceilings. Consumed counters
// live in the ledger, not here.
type BudgetState struct {
	TenantID          string
	Tier              Tier
	MonthlyLimitCents int64
	DailyLimitCents   int64
}

type Store interface {
	GetBudgetState(ctx context.Context, tenantID string) (*BudgetState, error)
	UpdateBudgetState(ctx context.Context, tenantID string, monthlyLimitCents, dailyLimitCents int64) error
}

// TierDefaults maps a tier to its monthly ceiling and daily multiplier over
// the base daily limit.
type TierDefaults struct {
	MonthlyLimitCents int64
	DailyMultiplier   int64
}

// Defaults computes per-tier limits from the configured base ceilings.
// Pro gets 5x the base daily limit, enterprise 20x.
func Defaults(baseMonthlyCents, baseDailyCents int64) map[Tier]TierDefaults {
	return map[Tier]TierDefaults{
		TierFree:       {MonthlyLimitCents: baseMonthlyCents, DailyMultiplier: 1},
		TierPro:        {MonthlyLimitCents: baseMonthlyCents * 10, DailyMultiplier: 5},
		TierEnterprise: {MonthlyLimitCents: baseMonthlyCents * 100, DailyMultiplier: 20},
	}
}

// ApplyTierDefaults fills zero limits on a budget state from the tier table.
// Explicit per-tenant overrides stored in the row always win.
func ApplyTierDefaults(s *BudgetState, defaults map[Tier]TierDefaults, baseDailyCents int64) {
	d, ok := defaults[s.Tier]
	if !ok {
		d = defaults[TierFree]
	}
	if s.MonthlyLimitCents == 0 {
		s.MonthlyLimitCents = d.MonthlyLimitCents
	}
	if s.DailyLimitCents == 0 {
		s.DailyLimitCents = baseDailyCents * d.DailyMultiplier
	}
}
