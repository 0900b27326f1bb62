package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scheduledKey = "jobs:scheduled"
	deadKey      = "jobs:dead"
	activeKey    = "jobs:count:active"
	completedKey = "jobs:count:completed"

	claimRetries = 8
	claimBatch   = 16
)

// RedisQueue schedules jobs on a sorted set scored by ready-time. Claiming is
// a ZREM race: whoever removes the member owns the attempt, so a job has at
// most one attempt in flight.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// score orders jobs strictly by ready-time in milliseconds. Priority never
// feeds the score: a delayed job (or a backoff retry) must stay invisible
// until its ready-time regardless of priority. Priority is applied at claim
// time, as a secondary sort among jobs that are already due.
func score(readyAt time.Time) float64 {
	return float64(readyAt.UnixMilli())
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	readyAt := time.Now().Add(delay)
	err = q.rdb.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  score(readyAt),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time) (*Job, error) {
	max := fmt.Sprintf("%d", now.UnixMilli())
	for i := 0; i < claimRetries; i++ {
		members, err := q.rdb.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
			Min: "-inf", Max: max, Count: claimBatch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan due jobs: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}

		// Prefer the highest priority among the oldest due jobs; ties keep
		// the oldest-first order the sorted set already yields.
		best := -1
		var bestJob Job
		for j, m := range members {
			var cand Job
			if err := json.Unmarshal([]byte(m), &cand); err != nil {
				return nil, fmt.Errorf("failed to decode job: %w", err)
			}
			if best == -1 || cand.Priority > bestJob.Priority {
				best, bestJob = j, cand
			}
		}

		removed, err := q.rdb.ZRem(ctx, scheduledKey, members[best]).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		if removed == 0 {
			// Another worker won the race; rescan.
			continue
		}

		if err := q.rdb.Incr(ctx, activeKey).Err(); err != nil {
			return nil, err
		}
		return &bestJob, nil
	}
	return nil, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	if err := q.rdb.Decr(ctx, activeKey).Err(); err != nil {
		return err
	}
	return q.Enqueue(ctx, job, delay)
}

func (q *RedisQueue) Complete(ctx context.Context, _ *Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.Decr(ctx, activeKey)
	pipe.Incr(ctx, completedKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode dead job: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.Decr(ctx, activeKey)
	pipe.LPush(ctx, deadKey, string(data))
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, scheduledKey)
	active := pipe.Get(ctx, activeKey)
	completed := pipe.Get(ctx, completedKey)
	dead := pipe.LLen(ctx, deadKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, err
	}

	c := Counts{Waiting: waiting.Val(), Dead: dead.Val()}
	if v, err := active.Int64(); err == nil {
		c.Active = v
	}
	if v, err := completed.Int64(); err == nil {
		c.Completed = v
	}
	return c, nil
}
