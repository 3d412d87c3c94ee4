package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces credential keys in a shared Redis
const DefaultRedisPrefix = "posctl:session:"

// Redis is a Store backed by a Redis server, letting several hosts
// share one session.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects to Redis from a URL such as redis://:pass@host:6379/0.
// An empty prefix selects DefaultRedisPrefix.
func NewRedis(redisURL, prefix string) (*Redis, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is required for the redis token store")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Fail fast on startup
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// MultiSet writes all pairs in one MULTI/EXEC transaction
func (r *Redis) MultiSet(ctx context.Context, pairs ...Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range pairs {
			pipe.Set(ctx, r.key(p.Key), p.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis multiset: %w", err)
	}
	return nil
}

func (r *Redis) MultiRemove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.rdb.Close()
}
