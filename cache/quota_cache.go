package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// counterTTL keeps stale day counters from accumulating. A counter
// that outlives its day is never read again, so the exact value only
// needs to exceed 24h.
const counterTTL = 48 * time.Hour

// QuotaCounter tracks per-user daily delivery counts. The active
// day's key is derived from the clock at call time, so a new day
// starts at zero simply because its key does not exist yet.
type QuotaCounter struct {
	client *redis.Client
}

// NewQuotaCounter creates a QuotaCounter on the shared client.
func NewQuotaCounter() *QuotaCounter {
	return &QuotaCounter{client: RedisClient}
}

// dayKey builds the Redis key for a user's counter on the current UTC day.
func dayKey(userID int64, now time.Time) string {
	return fmt.Sprintf("quota:%d:%s", userID, now.UTC().Format("2006-01-02"))
}

// Today returns the user's delivery count for the current UTC day.
func (q *QuotaCounter) Today(ctx context.Context, userID int64) (int64, error) {
	val, err := q.client.Get(ctx, dayKey(userID, time.Now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter for user %d: %w", userID, err)
	}
	return val, nil
}

// Increment atomically bumps the user's counter for the current UTC
// day and returns the new value.
func (q *QuotaCounter) Increment(ctx context.Context, userID int64) (int64, error) {
	key := dayKey(userID, time.Now())
	val, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota counter for user %d: %w", userID, err)
	}
	if val == 1 {
		// first delivery of the day created the key
		q.client.Expire(ctx, key, counterTTL)
	}
	return val, nil
}
