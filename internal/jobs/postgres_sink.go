package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the sink needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSummarySink persists generated summaries, one row per entry.
// Re-running a summary job overwrites the previous result.
type PostgresSummarySink struct {
	db DB
}

func NewPostgresSummarySink(db DB) *PostgresSummarySink {
	return &PostgresSummarySink{db: db}
}

func (s *PostgresSummarySink) SaveSummary(ctx context.Context, entryID, summary string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO summaries (entry_id, summary, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (entry_id)
		DO UPDATE SET summary = EXCLUDED.summary, updated_at = NOW()
	`, entryID, summary)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}
