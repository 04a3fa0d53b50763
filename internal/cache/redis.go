package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares cached results between server instances.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// ConnectRedis parses url, pings the server and returns a Store.
func ConnectRedis(ctx context.Context, url string, ttl time.Duration, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(rdb, ttl, log), nil
}

func NewRedis(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "tally:", log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.log.Warn("redis cache get failed", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

// Set stores value for the configured TTL. A non-positive TTL stores nothing,
// since Redis would otherwise keep the key forever.
func (r *Redis) Set(ctx context.Context, key string, value []byte) {
	if r.ttl <= 0 {
		return
	}
	if err := r.rdb.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		r.log.Warn("redis cache set failed", "key", key, "error", err)
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
