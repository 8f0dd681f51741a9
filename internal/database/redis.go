package database

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"relay-service/internal/config"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	client *redis.Client
}

// NewRedisConnection opens the bus connection. A failed ping is logged but
// not fatal: the subscriber retries with backoff until Redis is reachable.
func NewRedisConnection(cfg config.RedisConfig) *RedisClient {
	rdb := redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		PoolSize:    cfg.PoolSize,
		// pub/sub connections block on reads; the subscriber owns its deadlines
		ReadTimeout: -1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis not reachable yet, subscriber will retry", "addr", rdb.Options().Addr, "error", err)
	} else {
		slog.Info("Redis connection established successfully", "addr", rdb.Options().Addr)
	}

	return &RedisClient{client: rdb}
}

func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
