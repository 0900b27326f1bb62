package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dispatcher enqueues typed jobs with per-type retry policy defaults.
// Enqueue returns as soon as the job is persisted; execution happens on the
// worker pool.
type Dispatcher struct {
	queue    Queue
	policies map[Type]Policy
}

func NewDispatcher(queue Queue) *Dispatcher {
	return &Dispatcher{queue: queue, policies: DefaultPolicies()}
}

// EnqueueOptions override the per-type defaults for one job.
type EnqueueOptions struct {
	MaxAttempts int
	Priority    int
	Delay       time.Duration
}

func (d *Dispatcher) Enqueue(ctx context.Context, t Type, payload any, opts *EnqueueOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	policy, ok := d.policies[t]
	if !ok {
		return "", fmt.Errorf("unknown job type %q", t)
	}

	job := &Job{
		ID:          uuid.New().String(),
		Type:        t,
		Payload:     data,
		MaxAttempts: policy.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}

	var delay time.Duration
	if opts != nil {
		if opts.MaxAttempts > 0 {
			job.MaxAttempts = opts.MaxAttempts
		}
		job.Priority = opts.Priority
		delay = opts.Delay
	}

	if err := d.queue.Enqueue(ctx, job, delay); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (d *Dispatcher) EnqueueEmbedding(ctx context.Context, entryID, text string) (string, error) {
	return d.Enqueue(ctx, TypeEmbedding, EmbeddingPayload{EntryID: entryID, Text: text}, nil)
}

func (d *Dispatcher) EnqueueSummary(ctx context.Context, p SummaryPayload) (string, error) {
	return d.Enqueue(ctx, TypeSummary, p, nil)
}

func (d *Dispatcher) EnqueueBatchSummary(ctx context.Context, items []SummaryPayload) (string, error) {
	return d.Enqueue(ctx, TypeBatchSummary, BatchSummaryPayload{Items: items}, nil)
}

func (d *Dispatcher) Counts(ctx context.Context) (Counts, error) {
	return d.queue.Counts(ctx)
}
