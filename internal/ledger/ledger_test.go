package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/knowara/ai-gateway/internal/tenant"
	"github.com/knowara/ai-gateway/internal/usage"
)

type fakeTenants struct {
	states map[string]*tenant.BudgetState
}

func (f *fakeTenants) GetBudgetState(_ context.Context, tenantID string) (*tenant.BudgetState, error) {
	s, ok := f.states[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tenant.ErrTenantNotFound, tenantID)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeTenants) UpdateBudgetState(_ context.Context, _ string, _, _ int64) error {
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	recs []*usage.Record
	err  error
}

func (m *memAudit) Append(_ context.Context, rec *usage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *rec
	cp.ID = fmt.Sprintf("rec-%d", len(m.recs)+1)
	cp.CreatedAt = time.Now()
	m.recs = append(m.recs, &cp)
	return nil
}

func (m *memAudit) ListByTenant(_ context.Context, tenantID string, _, _ time.Time) ([]*usage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*usage.Record
	for _, r := range m.recs {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAudit) TotalCostByTenant(_ context.Context, tenantID string, _, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, r := range m.recs {
		if r.TenantID == tenantID {
			total += r.CostCents
		}
	}
	return total, nil
}

func (m *memAudit) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func newTestLimiter(t *testing.T, monthlyLimit, dailyLimit int64, clock Clock, alert AlertFunc) (*Limiter, *RedisStore, *memAudit) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisStore(rdb)
	tenants := &fakeTenants{states: map[string]*tenant.BudgetState{
		"acme": {TenantID: "acme", Tier: tenant.TierPro, MonthlyLimitCents: monthlyLimit, DailyLimitCents: dailyLimit},
	}}
	audit := &memAudit{}
	return NewLimiter(store, tenants, audit, alert, clock), store, audit
}

func preload(t *testing.T, store *RedisStore, clock Clock, tenantID string, cents int64) {
	t.Helper()
	monthKey, dayKey := windowKeys(clock())
	if _, _, err := store.Add(context.Background(), tenantID, monthKey, dayKey, cents); err != nil {
		t.Fatalf("preload failed: %v", err)
	}
}

func TestCheckBudget_MonthlyExceeded(t *testing.T) {
	l, store, _ := newTestLimiter(t, 10000, 100000, nil, nil)
	preload(t, store, time.Now, "acme", 9900)

	dec, err := l.CheckBudget(context.Background(), "acme", 200)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected rejection")
	}
	if dec.Reason != ReasonMonthly {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonMonthly)
	}
	if dec.Stats.MonthlyUsedCents != 9900 {
		t.Errorf("monthly used = %d, want 9900", dec.Stats.MonthlyUsedCents)
	}
}

func TestCheckBudget_DailyLimit(t *testing.T) {
	l, store, _ := newTestLimiter(t, 1000000, 1000, nil, nil)
	preload(t, store, time.Now, "acme", 500)

	dec, err := l.CheckBudget(context.Background(), "acme", 400)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if !dec.Allowed {
		t.Errorf("estimate 400 against 500/1000 should be allowed, got %q", dec.Reason)
	}

	dec, err = l.CheckBudget(context.Background(), "acme", 600)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("estimate 600 against 500/1000 should be rejected")
	}
	if dec.Reason != ReasonDaily {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonDaily)
	}
}

func TestCheckBudget_DoesNotMutate(t *testing.T) {
	l, store, _ := newTestLimiter(t, 10000, 1000, nil, nil)

	for i := 0; i < 5; i++ {
		if _, err := l.CheckBudget(context.Background(), "acme", 100); err != nil {
			t.Fatalf("CheckBudget failed: %v", err)
		}
	}

	monthKey, dayKey := windowKeys(time.Now())
	monthly, daily, err := store.Totals(context.Background(), "acme", monthKey, dayKey)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if monthly != 0 || daily != 0 {
		t.Errorf("admission mutated ledger: monthly=%d daily=%d", monthly, daily)
	}
}

func TestCheckBudget_MonthRollover(t *testing.T) {
	now := time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	l, store, _ := newTestLimiter(t, 10000, 100000, clock, nil)
	preload(t, store, clock, "acme", 9990)

	dec, err := l.CheckBudget(context.Background(), "acme", 200)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected rejection before rollover")
	}

	mu.Lock()
	now = time.Date(2026, time.February, 1, 0, 5, 0, 0, time.UTC)
	mu.Unlock()

	dec, err = l.CheckBudget(context.Background(), "acme", 200)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission after month rollover, got %q", dec.Reason)
	}
	if dec.Stats.MonthlyUsedCents != 0 {
		t.Errorf("monthly used after rollover = %d, want 0", dec.Stats.MonthlyUsedCents)
	}
}

func TestCheckBudget_DayRollover(t *testing.T) {
	now := time.Date(2026, time.August, 30, 23, 30, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	l, store, _ := newTestLimiter(t, 1000000, 1000, clock, nil)
	preload(t, store, clock, "acme", 990)

	dec, err := l.CheckBudget(context.Background(), "acme", 50)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected daily rejection before rollover")
	}
	if dec.Reason != ReasonDaily {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonDaily)
	}

	mu.Lock()
	now = time.Date(2026, time.August, 31, 0, 5, 0, 0, time.UTC)
	mu.Unlock()

	dec, err = l.CheckBudget(context.Background(), "acme", 50)
	if err != nil {
		t.Fatalf("CheckBudget failed: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected admission after day rollover, got %q", dec.Reason)
	}
	if dec.Stats.DailyUsedCents != 0 {
		t.Errorf("daily used after rollover = %d, want 0", dec.Stats.DailyUsedCents)
	}
	// The month did not change, so monthly spend carries over.
	if dec.Stats.MonthlyUsedCents != 990 {
		t.Errorf("monthly used after day rollover = %d, want 990", dec.Stats.MonthlyUsedCents)
	}
}

func TestCheckBudget_TenantNotFound(t *testing.T) {
	l, _, _ := newTestLimiter(t, 10000, 1000, nil, nil)
	_, err := l.CheckBudget(context.Background(), "ghost", 100)
	if !errors.Is(err, tenant.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestRecordUsage_ConcurrentSettlements(t *testing.T) {
	l, store, audit := newTestLimiter(t, 1000000, 1000000, nil, nil)

	const n = 100
	const cost = 3
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errCh <- l.RecordUsage(context.Background(), &usage.Record{
				TenantID:  "acme",
				RequestID: fmt.Sprintf("req-%d", i),
				Model:     "gpt-4o-mini",
				Source:    "completion",
				CostCents: cost,
			})
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("settlement failed: %v", err)
		}
	}

	monthKey, dayKey := windowKeys(time.Now())
	monthly, _, err := store.Totals(context.Background(), "acme", monthKey, dayKey)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if monthly != n*cost {
		t.Errorf("monthly used = %d, want %d (lost updates)", monthly, n*cost)
	}
	if audit.count() != n {
		t.Errorf("usage records = %d, want %d", audit.count(), n)
	}
}

func TestRecordUsage_IdempotentReplay(t *testing.T) {
	l, store, audit := newTestLimiter(t, 1000000, 1000000, nil, nil)

	rec := &usage.Record{TenantID: "acme", RequestID: "req-once", Model: "gpt-4o", Source: "completion", CostCents: 250}
	for i := 0; i < 3; i++ {
		if err := l.RecordUsage(context.Background(), rec); err != nil {
			t.Fatalf("settlement %d failed: %v", i, err)
		}
	}

	monthKey, dayKey := windowKeys(time.Now())
	monthly, daily, err := store.Totals(context.Background(), "acme", monthKey, dayKey)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if monthly != 250 || daily != 250 {
		t.Errorf("replay double-counted: monthly=%d daily=%d, want 250", monthly, daily)
	}
	if audit.count() != 1 {
		t.Errorf("usage records = %d, want 1", audit.count())
	}
}

func TestRecordUsage_RequiresRequestID(t *testing.T) {
	l, _, _ := newTestLimiter(t, 1000000, 1000000, nil, nil)
	err := l.RecordUsage(context.Background(), &usage.Record{TenantID: "acme", CostCents: 1})
	if err == nil {
		t.Fatal("expected error for missing request id")
	}
}

func TestRecordUsage_NearLimitAlert(t *testing.T) {
	alerts := make(chan Alert, 4)
	l, _, _ := newTestLimiter(t, 1000, 1000000, nil, func(a Alert) { alerts <- a })

	if err := l.RecordUsage(context.Background(), &usage.Record{
		TenantID: "acme", RequestID: "req-alert", Model: "gpt-4o", Source: "completion", CostCents: 850,
	}); err != nil {
		t.Fatalf("settlement failed: %v", err)
	}

	select {
	case a := <-alerts:
		if a.Window != "monthly" {
			t.Errorf("alert window = %q, want monthly", a.Window)
		}
		if a.PercentUsed < 80 {
			t.Errorf("alert percent = %.1f, want >= 80", a.PercentUsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected near-limit alert")
	}
}

func TestRecordUsage_AuditFailureReleasesReservation(t *testing.T) {
	l, store, audit := newTestLimiter(t, 1000000, 1000000, nil, nil)
	monthKey, dayKey := windowKeys(time.Now())

	audit.err = errors.New("sink down")
	rec := &usage.Record{TenantID: "acme", RequestID: "req-retry", Model: "gpt-4o", Source: "completion", CostCents: 10}
	if err := l.RecordUsage(context.Background(), rec); err == nil {
		t.Fatal("expected settlement error while audit sink is down")
	}

	// The failed attempt must leave no spend behind.
	monthly, daily, err := store.Totals(context.Background(), "acme", monthKey, dayKey)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if monthly != 0 || daily != 0 {
		t.Errorf("failed settlement left spend: monthly=%d daily=%d, want 0", monthly, daily)
	}

	audit.err = nil
	if err := l.RecordUsage(context.Background(), rec); err != nil {
		t.Fatalf("retried settlement failed: %v", err)
	}
	if audit.count() != 1 {
		t.Errorf("usage records = %d, want 1 after retry", audit.count())
	}

	// One logical settlement of 10, not 20.
	monthly, daily, err = store.Totals(context.Background(), "acme", monthKey, dayKey)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if monthly != 10 || daily != 10 {
		t.Errorf("retry double-counted: monthly=%d daily=%d, want 10", monthly, daily)
	}
}
