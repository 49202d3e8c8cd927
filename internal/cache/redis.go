package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const scanBatch = 200

// Redis stores entries in a Redis server under a key prefix.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys, e.g. "evcal:".
	Prefix string
	TTL    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "evcal:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if r.ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Purge deletes every key under the prefix, walking it with SCAN.
func (r *Redis) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
