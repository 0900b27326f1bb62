package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorker_RetryThenDeadLetter(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	handlers := map[Type]Handler{
		TypeSummary: HandlerFunc(func(_ context.Context, _ *Job) error {
			calls.Add(1)
			return errors.New("downstream unavailable")
		}),
	}
	w := NewWorker(q, handlers, 1, 10*time.Millisecond)

	d := NewDispatcher(q)
	if _, err := d.EnqueueSummary(ctx, SummaryPayload{EntryID: "e1", Text: "t", TenantID: "acme"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	now := time.Now()
	policy := DefaultPolicies()[TypeSummary]

	// Attempt 1 fails and requeues with the base delay.
	job, err := q.Claim(ctx, now)
	if err != nil || job == nil {
		t.Fatalf("claim 1: job=%v err=%v", job, err)
	}
	w.process(ctx, job)

	if got, _ := q.Claim(ctx, now); got != nil {
		t.Fatal("retry was immediate, want delayed")
	}
	job, err = q.Claim(ctx, now.Add(policy.Backoff.Delay(1)+time.Second))
	if err != nil || job == nil {
		t.Fatalf("claim 2: job=%v err=%v", job, err)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts before 2nd run = %d, want 1", job.Attempts)
	}
	w.process(ctx, job)

	// Attempt 3 exhausts the job.
	job, err = q.Claim(ctx, now.Add(time.Hour))
	if err != nil || job == nil {
		t.Fatalf("claim 3: job=%v err=%v", job, err)
	}
	w.process(ctx, job)

	if got := calls.Load(); got != 3 {
		t.Errorf("handler ran %d times, want 3", got)
	}

	c, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if c.Dead != 1 {
		t.Errorf("dead = %d, want 1", c.Dead)
	}

	// Never retried a 4th time.
	if got, _ := q.Claim(ctx, now.Add(48*time.Hour)); got != nil {
		t.Errorf("exhausted job came back: %+v", got)
	}
}

func TestWorker_SuccessCompletes(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	handlers := map[Type]Handler{
		TypeEmbedding: HandlerFunc(func(_ context.Context, _ *Job) error { return nil }),
	}
	w := NewWorker(q, handlers, 1, 10*time.Millisecond)

	d := NewDispatcher(q)
	if _, err := d.EnqueueEmbedding(ctx, "e1", "text"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job, _ := q.Claim(ctx, time.Now())
	if job == nil {
		t.Fatal("expected claimable job")
	}
	w.process(ctx, job)

	c, _ := q.Counts(ctx)
	if c.Completed != 1 || c.Active != 0 || c.Waiting != 0 || c.Dead != 0 {
		t.Errorf("counts = %+v, want one completed", c)
	}
}

func TestWorker_CompletesDuringShutdown(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	handlers := map[Type]Handler{
		TypeEmbedding: HandlerFunc(func(_ context.Context, _ *Job) error { return nil }),
	}
	w := NewWorker(q, handlers, 1, 10*time.Millisecond)

	d := NewDispatcher(q)
	if _, err := d.EnqueueEmbedding(ctx, "e1", "text"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job, _ := q.Claim(ctx, time.Now())
	if job == nil {
		t.Fatal("expected claimable job")
	}

	// A job finishing after the run context is cancelled must still be
	// accounted for, not dropped in the active state.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	w.process(cancelled, job)

	c, _ := q.Counts(ctx)
	if c.Completed != 1 || c.Active != 0 {
		t.Errorf("counts = %+v, want one completed and none active", c)
	}
}

func TestWorker_NoHandlerDeadLetters(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, map[Type]Handler{}, 1, 10*time.Millisecond)
	if err := q.Enqueue(ctx, &Job{ID: "j", Type: TypeSummary, MaxAttempts: 3}, 0); err != nil {
		t.Fatal(err)
	}

	job, _ := q.Claim(ctx, time.Now())
	w.process(ctx, job)

	c, _ := q.Counts(ctx)
	if c.Dead != 1 {
		t.Errorf("dead = %d, want 1", c.Dead)
	}
}
