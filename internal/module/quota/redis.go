package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, shared across replicas. Counters
// live in per-day keys that expire shortly after the UTC-midnight reset.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed quota store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// acquireScript performs the check-and-increment as one atomic step on the
// server so concurrent acquires for the same IP cannot both take the last slot.
var acquireScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local cost = tonumber(ARGV[2])
	local expire_at = tonumber(ARGV[3])

	local current = tonumber(redis.call('GET', key) or '0')
	if current + cost > limit then
		return {0, current}
	end

	current = redis.call('INCRBY', key, cost)
	redis.call('EXPIREAT', key, expire_at)
	return {1, current}
`)

// Acquire implements Store.
func (s *RedisStore) Acquire(ctx context.Context, ip string, limit, cost int) (Usage, error) {
	now := s.now().UTC()
	resetAt := nextMidnightUTC(now)

	result, err := acquireScript.Run(ctx, s.client, []string{s.key(ip, now)},
		limit,
		cost,
		// Keep the key an hour past the reset for post-mortem inspection.
		resetAt.Add(time.Hour).Unix(),
	).Slice()
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	admitted, _ := strconv.ParseInt(fmt.Sprint(result[0]), 10, 64)
	used, _ := strconv.ParseInt(fmt.Sprint(result[1]), 10, 64)

	return Usage{
		Admitted:  admitted == 1,
		Used:      int(used),
		Remaining: remaining(limit, int(used)),
		ResetAt:   resetAt,
	}, nil
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, ip string, limit int) (Usage, error) {
	now := s.now().UTC()

	val, err := s.client.Get(ctx, s.key(ip, now)).Int()
	if err != nil && err != redis.Nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return Usage{
		Used:      val,
		Remaining: remaining(limit, val),
		ResetAt:   nextMidnightUTC(now),
	}, nil
}

func (s *RedisStore) key(ip string, now time.Time) string {
	return fmt.Sprintf("quota:ip:%s:%s", ip, dayKey(now))
}
