package catalog

import (
	"errors"
	"testing"
)

func testCatalog() *Catalog {
	return New([]ModelProfile{
		{ID: "premium", CostPer1MCents: 1500, MaxContextTokens: 200000},
		{ID: "standard", CostPer1MCents: 300, MaxContextTokens: 128000},
		{ID: "cheap", CostPer1MCents: 50, MaxContextTokens: 32000},
		{ID: "mini", CostPer1MCents: 60, MaxContextTokens: 128000},
	}, map[TaskType]string{
		TaskQuickSummary: "mini",
	})
}

func TestSelect_CheapestSurvivor(t *testing.T) {
	c := testCatalog()
	m, err := c.Select(TaskDescriptor{Type: TaskChat, ContextTokens: 1000})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if m.ID != "cheap" {
		t.Errorf("expected cheap, got %s", m.ID)
	}
}

func TestSelect_ContextFilter(t *testing.T) {
	c := testCatalog()
	m, err := c.Select(TaskDescriptor{Type: TaskChat, ContextTokens: 150000})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if m.ID != "premium" {
		t.Errorf("expected premium (only model covering 150k context), got %s", m.ID)
	}
}

func TestSelect_BudgetCeilingFilter(t *testing.T) {
	c := testCatalog()
	m, err := c.Select(TaskDescriptor{Type: TaskChat, ContextTokens: 100000, BudgetCeilingCents: 100})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	// cheap is priced under the ceiling but lacks context; mini survives both.
	if m.ID != "mini" {
		t.Errorf("expected mini, got %s", m.ID)
	}
}

func TestSelect_NoEligibleModel(t *testing.T) {
	c := testCatalog()
	_, err := c.Select(TaskDescriptor{Type: TaskChat, ContextTokens: 500000})
	if !errors.Is(err, ErrNoEligibleModel) {
		t.Errorf("expected ErrNoEligibleModel, got %v", err)
	}
	_, err = c.Select(TaskDescriptor{Type: TaskChat, ContextTokens: 1000, BudgetCeilingCents: 10})
	if !errors.Is(err, ErrNoEligibleModel) {
		t.Errorf("expected ErrNoEligibleModel for unpayable ceiling, got %v", err)
	}
}

func TestSelect_PreferredModelWinsOverCheaper(t *testing.T) {
	c := testCatalog()
	// Four models survive; mini is preferred for quick_summary even though
	// cheap costs less.
	m, err := c.Select(TaskDescriptor{Type: TaskQuickSummary, ContextTokens: 1000})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if m.ID != "mini" {
		t.Errorf("expected preferred mini, got %s", m.ID)
	}
}

func TestSelect_PreferredModelFilteredOut(t *testing.T) {
	c := testCatalog()
	// mini is filtered by the ceiling, so the cheapest survivor wins.
	m, err := c.Select(TaskDescriptor{Type: TaskQuickSummary, ContextTokens: 1000, BudgetCeilingCents: 55})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if m.ID != "cheap" {
		t.Errorf("expected cheap, got %s", m.ID)
	}
}

func TestSelect_CostTieBrokenByLargerContext(t *testing.T) {
	c := New([]ModelProfile{
		{ID: "small-ctx", CostPer1MCents: 100, MaxContextTokens: 16000},
		{ID: "big-ctx", CostPer1MCents: 100, MaxContextTokens: 64000},
	}, nil)
	m, err := c.Select(TaskDescriptor{Type: TaskChat, ContextTokens: 1000})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if m.ID != "big-ctx" {
		t.Errorf("expected big-ctx on cost tie, got %s", m.ID)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	c := testCatalog()
	task := TaskDescriptor{Type: TaskChat, ContextTokens: 4000, BudgetCeilingCents: 400}
	first, err := c.Select(task)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		m, err := c.Select(task)
		if err != nil {
			t.Fatalf("Select failed on run %d: %v", i, err)
		}
		if m.ID != first.ID {
			t.Fatalf("selection not deterministic: %s then %s", first.ID, m.ID)
		}
	}
}
