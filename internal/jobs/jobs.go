// Package jobs dispatches derived-data work (embedding generation,
// summarization) off the request path, with bounded retries, exponential
// backoff and a terminal dead-letter state.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var ErrJobExhausted = errors.New("job exhausted")

type Type string

const (
	TypeEmbedding    Type = "embedding"
	TypeSummary      Type = "summary"
	TypeBatchSummary Type = "batch_summary"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusInFlight  Status = "in_flight"
	StatusCompleted Status = "completed"
	StatusDead      Status = "dead_lettered"
)

type Job struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"` // attempts made so far
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// BackoffPolicy computes retry delays: base * 2^(k-1) before retry k, capped
// at Max. Retries are always delayed, never immediate.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the delay before retry k (1-based).
func (p BackoffPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = p.Max

	d := eb.NextBackOff()
	for i := 1; i < retry; i++ {
		d = eb.NextBackOff()
	}
	return d
}

type Policy struct {
	MaxAttempts int
	Backoff     BackoffPolicy
}

// DefaultPolicies sets single-item jobs to 3 attempts with a 2s base and
// batches to 2 attempts with a 5s base.
func DefaultPolicies() map[Type]Policy {
	single := Policy{MaxAttempts: 3, Backoff: BackoffPolicy{Base: 2 * time.Second, Max: 60 * time.Second}}
	return map[Type]Policy{
		TypeEmbedding:    single,
		TypeSummary:      single,
		TypeBatchSummary: {MaxAttempts: 2, Backoff: BackoffPolicy{Base: 5 * time.Second, Max: 120 * time.Second}},
	}
}

type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Dead      int64 `json:"dead"`
}

// Queue is the job transport. Claim hands out at most one in-flight attempt
// per job instance at a time.
type Queue interface {
	Enqueue(ctx context.Context, job *Job, delay time.Duration) error
	// Claim returns the next job due at now, or nil when none is due.
	Claim(ctx context.Context, now time.Time) (*Job, error)
	// Requeue schedules a claimed job for another attempt after delay.
	Requeue(ctx context.Context, job *Job, delay time.Duration) error
	Complete(ctx context.Context, job *Job) error
	// DeadLetter parks a claimed job terminally; it is never auto-retried.
	DeadLetter(ctx context.Context, job *Job) error
	Counts(ctx context.Context) (Counts, error)
}

type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

// Payloads.

type EmbeddingPayload struct {
	EntryID string `json:"entry_id"`
	Text    string `json:"text"`
}

type SummaryPayload struct {
	EntryID   string `json:"entry_id"`
	Text      string `json:"text"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

type BatchSummaryPayload struct {
	Items []SummaryPayload `json:"items"`
}
