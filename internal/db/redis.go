package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNilRedisStore is returned when a RedisStore pointer is nil or uninitialized.
var ErrNilRedisStore = errors.New("redis store is nil")

// seenKeyPrefix namespaces the per-viewer sorted sets. Members are ad IDs and
// scores are the last impression time in unix milliseconds.
const seenKeyPrefix = "seen:"

// pruneScanCount is the SCAN page size used while pruning.
const pruneScanCount = 100

// markSeenScript upserts a member only when the new score is later than the
// stored one, so replays and out-of-order writes never move seenAt backwards.
// ARGV: member, score millis, ttl millis (0 keeps the current TTL).
var markSeenScript = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[1], ARGV[1])
if (not cur) or tonumber(cur) < tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
end
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return redis.call('ZSCORE', KEYS[1], ARGV[1])
`)

// RedisStore wraps a redis client holding the seen records.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func seenKey(viewerKey string) string {
	return seenKeyPrefix + viewerKey
}

// GetSeen returns every ad the viewer has seen mapped to its latest seenAt.
func (r *RedisStore) GetSeen(ctx context.Context, viewerKey string) (map[string]time.Time, error) {
	if r == nil || r.Client == nil {
		return nil, ErrNilRedisStore
	}
	entries, err := r.Client.ZRangeWithScores(ctx, seenKey(viewerKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read seen set: %w", err)
	}
	seen := make(map[string]time.Time, len(entries))
	for _, z := range entries {
		adID, ok := z.Member.(string)
		if !ok {
			continue
		}
		seen[adID] = time.UnixMilli(int64(z.Score)).UTC()
	}
	return seen, nil
}

// MarkSeen records that viewerKey saw adID at the given time. An earlier time
// than the stored one leaves the record unchanged. ttl refreshes the expiry of
// the whole viewer set; zero leaves it alone. Returns the stored seenAt.
func (r *RedisStore) MarkSeen(ctx context.Context, viewerKey, adID string, at time.Time, ttl time.Duration) (time.Time, error) {
	if r == nil || r.Client == nil {
		return time.Time{}, ErrNilRedisStore
	}
	res, err := markSeenScript.Run(ctx, r.Client, []string{seenKey(viewerKey)},
		adID, at.UnixMilli(), ttl.Milliseconds()).Text()
	if err != nil {
		return time.Time{}, fmt.Errorf("mark seen: %w", err)
	}
	ms, err := strconv.ParseFloat(res, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse seen score %q: %w", res, err)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// PruneSeen removes seen records older than before from every viewer set and
// returns how many were removed. Sets left empty are deleted by Redis.
func (r *RedisStore) PruneSeen(ctx context.Context, before time.Time) (int64, error) {
	if r == nil || r.Client == nil {
		return 0, ErrNilRedisStore
	}
	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)

	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := r.Client.Scan(ctx, cursor, seenKeyPrefix+"*", pruneScanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("scan seen keys: %w", err)
		}
		if len(keys) > 0 {
			pipe := r.Client.Pipeline()
			cmds := make([]*redis.IntCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.ZRemRangeByScore(ctx, key, "-inf", maxScore)
			}
			if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
				return removed, fmt.Errorf("prune seen keys: %w", err)
			}
			for _, cmd := range cmds {
				removed += cmd.Val()
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// PoolUpdateChannel carries campaign pool change notifications between
// instances. The payload is the ID of the publishing instance.
const PoolUpdateChannel = "campaign-pool-updates"

// PublishPoolUpdate tells other instances to reload their campaign pool.
func (r *RedisStore) PublishPoolUpdate(ctx context.Context, instanceID string) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	if err := r.Client.Publish(ctx, PoolUpdateChannel, instanceID).Err(); err != nil {
		return fmt.Errorf("publish pool update: %w", err)
	}
	return nil
}

// SubscribePoolUpdates streams the instance IDs published on
// PoolUpdateChannel until ctx is done. The returned channel is closed when
// the subscription ends.
func (r *RedisStore) SubscribePoolUpdates(ctx context.Context) (<-chan string, error) {
	if r == nil || r.Client == nil {
		return nil, ErrNilRedisStore
	}
	sub := r.Client.Subscribe(ctx, PoolUpdateChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe pool updates: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping checks connectivity for health reporting.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
