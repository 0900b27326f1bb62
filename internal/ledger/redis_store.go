package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Window keys outlive their window long enough for reporting, then
	// expire; a fresh window always starts at zero.
	monthlyTTL = 45 * 24 * time.Hour
	dailyTTL   = 3 * 24 * time.Hour
)

// RedisStore keeps ledger counters in redis. INCRBY gives the linearizable
// per-tenant increment settlement requires.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func monthlyKey(tenantID, monthKey string) string {
	return fmt.Sprintf("ledger:%s:m:%s", tenantID, monthKey)
}

func dailyKey(tenantID, dayKey string) string {
	return fmt.Sprintf("ledger:%s:d:%s", tenantID, dayKey)
}

func settleKey(requestID string) string {
	return fmt.Sprintf("ledger:settle:%s", requestID)
}

func (s *RedisStore) Totals(ctx context.Context, tenantID, monthKey, dayKey string) (int64, int64, error) {
	pipe := s.rdb.Pipeline()
	mCmd := pipe.Get(ctx, monthlyKey(tenantID, monthKey))
	dCmd := pipe.Get(ctx, dailyKey(tenantID, dayKey))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}

	monthly, err := counterValue(mCmd)
	if err != nil {
		return 0, 0, err
	}
	daily, err := counterValue(dCmd)
	if err != nil {
		return 0, 0, err
	}
	return monthly, daily, nil
}

func counterValue(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *RedisStore) Add(ctx context.Context, tenantID, monthKey, dayKey string, cents int64) (int64, int64, error) {
	mk := monthlyKey(tenantID, monthKey)
	dk := dailyKey(tenantID, dayKey)

	pipe := s.rdb.TxPipeline()
	mCmd := pipe.IncrBy(ctx, mk, cents)
	dCmd := pipe.IncrBy(ctx, dk, cents)
	pipe.Expire(ctx, mk, monthlyTTL)
	pipe.Expire(ctx, dk, dailyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	return mCmd.Val(), dCmd.Val(), nil
}

func (s *RedisStore) Reserve(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, settleKey(requestID), 1, ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, requestID string) error {
	return s.rdb.Del(ctx, settleKey(requestID)).Err()
}
