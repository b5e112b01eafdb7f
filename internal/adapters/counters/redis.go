package counters

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "duel:counter:"

// Redis stores counters as plain integer keys so several service
// instances share one view.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Add(ctx context.Context, name string, delta int64) (int64, error) {
	if !known(name) {
		return 0, ErrUnknownCounter
	}
	v, err := r.client.IncrBy(ctx, redisKeyPrefix+name, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", name, err)
	}
	return v, nil
}

func (r *Redis) Get(ctx context.Context, name string) (int64, error) {
	if !known(name) {
		return 0, ErrUnknownCounter
	}
	v, err := r.client.Get(ctx, redisKeyPrefix+name).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", name, err)
	}
	return v, nil
}

// HealthCheck pings the server.
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
