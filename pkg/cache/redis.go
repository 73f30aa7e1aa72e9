package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/crunchhq/crunch/pkg/observability"
)

const redisKeyPrefix = "crunch:bundle:"

// redisLevel is the optional shared cache level. Multiple crunchd processes
// behind a load balancer reuse each other's builds through it; a Redis
// outage degrades to memory-only caching, it never fails a request.
type redisLevel struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

func newRedisLevel(cfg Config, logger *observability.Logger) (*redisLevel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	return &redisLevel{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (r *redisLevel) get(ctx context.Context, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cached entry: %w", err)
	}
	return &entry, nil
}

func (r *redisLevel) set(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+entry.Key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *redisLevel) delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// clear removes every bundle entry by prefix scan.
func (r *redisLevel) clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

func (r *redisLevel) close() error {
	return r.client.Close()
}
