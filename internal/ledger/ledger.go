// Package ledger meters per-tenant spend against monthly and daily ceilings.
//
// Counters are keyed by calendar window (month and day) rather than mutated
// back to zero: entering a new window reads a fresh key that is zero by
// construction, so the lazy reset is idempotent and never retroactive.
// Admission reads without locking; settlement increments atomically, so
// concurrent settlements are never lost. The small over-admission window this
// leaves open is the documented trade for low-latency admission.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/knowara/ai-gateway/internal/tenant"
	"github.com/knowara/ai-gateway/internal/usage"
)

var ErrBudgetExceeded = errors.New("budget exceeded")

const (
	ReasonMonthly = "Monthly budget exceeded"
	ReasonDaily   = "Daily limit exceeded"

	nearLimitPercent = 80.0
	settleTTL        = 48 * time.Hour
)

// BudgetExceededError is an admission rejection with a human-readable reason
// and the stats at rejection time.
type BudgetExceededError struct {
	Reason string
	Stats  Stats
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s (monthly %d/%d, daily %d/%d)",
		e.Reason, e.Stats.MonthlyUsedCents, e.Stats.MonthlyLimitCents,
		e.Stats.DailyUsedCents, e.Stats.DailyLimitCents)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// Stats is a point-in-time view of a tenant's ledger.
type Stats struct {
	MonthlyUsedCents  int64   `json:"monthly_used_cents"`
	MonthlyLimitCents int64   `json:"monthly_limit_cents"`
	DailyUsedCents    int64   `json:"daily_used_cents"`
	DailyLimitCents   int64   `json:"daily_limit_cents"`
	MonthlyPercent    float64 `json:"monthly_percent"`
	DailyPercent      float64 `json:"daily_percent"`
	NearLimit         bool    `json:"near_limit"`
}

// Decision is the outcome of an admission check. Admission never mutates the
// ledger; rejected requests incur zero cost.
type Decision struct {
	Allowed bool
	Reason  string
	Stats   Stats
}

// Alert is emitted when a settlement pushes a window past the near-limit
// threshold.
type Alert struct {
	TenantID     string
	Window       string // "monthly" or "daily"
	UsedCents    int64
	LimitCents   int64
	PercentUsed  float64
}

type AlertFunc func(Alert)

type Clock func() time.Time

// Store holds the window counters. Add must be an atomic increment so
// concurrent settlements for one tenant are linearizable.
type Store interface {
	Totals(ctx context.Context, tenantID, monthKey, dayKey string) (monthly, daily int64, err error)
	Add(ctx context.Context, tenantID, monthKey, dayKey string, cents int64) (monthly, daily int64, err error)
	// Reserve claims a settlement idempotency token for a request id.
	// It returns false when the request was already settled.
	Reserve(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, requestID string) error
}

// Limiter runs admission checks and settlements against the ledger.
type Limiter struct {
	store   Store
	tenants tenant.Store
	audit   usage.Store
	clock   Clock
	alert   AlertFunc
}

func NewLimiter(store Store, tenants tenant.Store, audit usage.Store, alert AlertFunc, clock Clock) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{store: store, tenants: tenants, audit: audit, clock: clock, alert: alert}
}

func windowKeys(t time.Time) (monthKey, dayKey string) {
	t = t.UTC()
	return t.Format("2006-01"), t.Format("2006-01-02")
}

func percent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// CheckBudget is the pre-call admission check. It reads the current windows'
// counters and rejects when the estimated cost would push either past its
// limit. The read is optimistic and the ledger is not mutated.
func (l *Limiter) CheckBudget(ctx context.Context, tenantID string, estimatedCents int64) (Decision, error) {
	state, err := l.tenants.GetBudgetState(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}

	monthKey, dayKey := windowKeys(l.clock())
	monthly, daily, err := l.store.Totals(ctx, tenantID, monthKey, dayKey)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read ledger: %w", err)
	}

	stats := Stats{
		MonthlyUsedCents:  monthly,
		MonthlyLimitCents: state.MonthlyLimitCents,
		DailyUsedCents:    daily,
		DailyLimitCents:   state.DailyLimitCents,
		MonthlyPercent:    percent(monthly, state.MonthlyLimitCents),
		DailyPercent:      percent(daily, state.DailyLimitCents),
	}
	stats.NearLimit = stats.MonthlyPercent >= nearLimitPercent || stats.DailyPercent >= nearLimitPercent

	if monthly+estimatedCents > state.MonthlyLimitCents {
		return Decision{Allowed: false, Reason: ReasonMonthly, Stats: stats}, nil
	}
	if daily+estimatedCents > state.DailyLimitCents {
		return Decision{Allowed: false, Reason: ReasonDaily, Stats: stats}, nil
	}

	return Decision{Allowed: true, Stats: stats}, nil
}

// RecordUsage settles a completed call: it increments both window counters
// atomically and appends one usage record. A replay with the same request id
// is a no-op, so retried settlements never double-count. Near-limit alerts
// fire on a separate goroutine and can neither block nor roll back a
// settlement.
func (l *Limiter) RecordUsage(ctx context.Context, rec *usage.Record) error {
	if rec.RequestID == "" {
		return fmt.Errorf("settlement requires a request id")
	}
	if rec.CostCents < 0 {
		return fmt.Errorf("settlement cost must be non-negative, got %d", rec.CostCents)
	}

	fresh, err := l.store.Reserve(ctx, rec.RequestID, settleTTL)
	if err != nil {
		return fmt.Errorf("failed to reserve settlement: %w", err)
	}
	if !fresh {
		// Already settled.
		return nil
	}

	monthKey, dayKey := windowKeys(l.clock())
	monthly, daily, err := l.store.Add(ctx, rec.TenantID, monthKey, dayKey, rec.CostCents)
	if err != nil {
		_ = l.store.Release(ctx, rec.RequestID)
		return fmt.Errorf("failed to increment ledger: %w", err)
	}

	if err := l.audit.Append(ctx, rec); err != nil {
		// Roll the increment back before releasing the idempotency token, so
		// a retried settlement starts from zero and cannot double-count.
		if _, _, cerr := l.store.Add(ctx, rec.TenantID, monthKey, dayKey, -rec.CostCents); cerr != nil {
			// Rollback failed: the counters keep the spend, so the token must
			// stay held. A replay no-ops instead of double-counting; the
			// record is lost and surfaced loudly.
			log.Printf("ledger: settlement %s rollback failed, keeping reservation: %v", rec.RequestID, cerr)
			return fmt.Errorf("failed to append usage record: %w", err)
		}
		_ = l.store.Release(ctx, rec.RequestID)
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	l.fireAlerts(ctx, rec.TenantID, monthly, daily)
	return nil
}

func (l *Limiter) fireAlerts(ctx context.Context, tenantID string, monthly, daily int64) {
	if l.alert == nil {
		return
	}
	state, err := l.tenants.GetBudgetState(ctx, tenantID)
	if err != nil {
		log.Printf("ledger: alert check skipped for %s: %v", tenantID, err)
		return
	}

	var alerts []Alert
	if p := percent(monthly, state.MonthlyLimitCents); p >= nearLimitPercent {
		alerts = append(alerts, Alert{TenantID: tenantID, Window: "monthly", UsedCents: monthly, LimitCents: state.MonthlyLimitCents, PercentUsed: p})
	}
	if p := percent(daily, state.DailyLimitCents); p >= nearLimitPercent {
		alerts = append(alerts, Alert{TenantID: tenantID, Window: "daily", UsedCents: daily, LimitCents: state.DailyLimitCents, PercentUsed: p})
	}
	for _, a := range alerts {
		go l.alert(a)
	}
}

// Snapshot returns the tenant's current ledger stats without an admission
// decision.
func (l *Limiter) Snapshot(ctx context.Context, tenantID string) (Stats, error) {
	dec, err := l.CheckBudget(ctx, tenantID, 0)
	if err != nil {
		return Stats{}, err
	}
	return dec.Stats, nil
}
