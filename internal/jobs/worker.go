package jobs

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Worker pulls due jobs off the queue and runs their handlers. Failed jobs
// are requeued with the type's backoff until attempts are exhausted, then
// dead-lettered; dead-lettering is terminal and needs external re-submission.
type Worker struct {
	queue        Queue
	handlers     map[Type]Handler
	policies     map[Type]Policy
	clock        func() time.Time
	pollInterval time.Duration
	concurrency  int
}

func NewWorker(queue Queue, handlers map[Type]Handler, concurrency int, pollInterval time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		queue:        queue,
		handlers:     handlers,
		policies:     DefaultPolicies(),
		clock:        time.Now,
		pollInterval: pollInterval,
		concurrency:  concurrency,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	sem := make(chan struct{}, w.concurrency)
	for {
		select {
		case <-ctx.Done():
			// Drain in-flight attempts before returning.
			for i := 0; i < w.concurrency; i++ {
				sem <- struct{}{}
			}
			return
		default:
		}

		job, err := w.queue.Claim(ctx, w.clock())
		if err != nil {
			log.Printf("worker: claim failed: %v", err)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		sem <- struct{}{}
		go func(job *Job) {
			defer func() { <-sem }()
			w.process(ctx, job)
		}(job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-time.After(w.pollInterval):
	case <-ctx.Done():
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	// Queue bookkeeping must survive a cancelled run context: a claimed job
	// finishing during shutdown still has to be completed, requeued or
	// dead-lettered, never dropped.
	qctx := context.WithoutCancel(ctx)

	handler, ok := w.handlers[job.Type]
	if !ok {
		job.Attempts++
		job.LastError = fmt.Sprintf("no handler for job type %q", job.Type)
		if err := w.queue.DeadLetter(qctx, job); err != nil {
			log.Printf("worker: dead-letter failed for job %s: %v", job.ID, err)
		}
		return
	}

	err := handler.Handle(ctx, job)
	job.Attempts++
	if err == nil {
		if err := w.queue.Complete(qctx, job); err != nil {
			log.Printf("worker: complete failed for job %s: %v", job.ID, err)
		}
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		log.Printf("worker: %v: job %s (%s) after %d attempts: %v",
			ErrJobExhausted, job.ID, job.Type, job.Attempts, err)
		if err := w.queue.DeadLetter(qctx, job); err != nil {
			log.Printf("worker: dead-letter failed for job %s: %v", job.ID, err)
		}
		return
	}

	delay := w.policies[job.Type].Backoff.Delay(job.Attempts)
	log.Printf("worker: job %s (%s) attempt %d/%d failed, retrying in %s: %v",
		job.ID, job.Type, job.Attempts, job.MaxAttempts, delay, err)
	if err := w.queue.Requeue(qctx, job, delay); err != nil {
		log.Printf("worker: requeue failed for job %s: %v", job.ID, err)
	}
}
