package usage

import (
	"context"
	"time"
)

// Record is one completed call's authoritative usage. Append-only: exactly one
// record exists per settled inference or embedding call, and failed admissions
// never produce one.
type Record struct {
	ID              string
	TenantID        string
	UserID          string
	ProjectID       string
	RequestID       string
	Model           string
	Source          string // "completion" or "embedding"
	PromptExcerpt   string
	ResponseExcerpt string
	TokensUsed      int
	CostCents       int64
	LatencyMs       int64
	CreatedAt       time.Time
}

type Store interface {
	Append(ctx context.Context, rec *Record) error
	ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error)
	TotalCostByTenant(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
}

const excerptLen = 200

// Excerpt truncates text for storage in a usage record.
func Excerpt(text string) string {
	if len(text) <= excerptLen {
		return text
	}
	return text[:excerptLen]
}
