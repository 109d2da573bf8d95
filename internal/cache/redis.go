package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/QuinnsCode/mtg-spectr-sub001/internal/logging"
)

// RedisOptions configure the Redis-backed suppression index.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis keeps last-sent markers in Redis so alert cooldowns survive restarts.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis connects a suppression index to a Redis server.
func NewRedis(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "mtgspectr:"
	}

	return &Redis{
		client: client,
		prefix: prefix,
		logger: logging.Component(logger, "cache_redis"),
	}, nil
}

// LastSent returns when an alert last went out for the key, if ever.
func (r *Redis) LastSent(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+"alert:"+key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last sent: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last sent marker: %w", err)
	}
	return at, true, nil
}

// MarkSent records a delivery; the marker expires once the cooldown passes.
func (r *Redis) MarkSent(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+"alert:"+key, at.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("set last sent: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
