package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/optimo/bridgebroker/internal/config"
	"github.com/redis/go-redis/v9"
)

// Connect creates a Redis client and verifies connectivity with a
// 5-second timeout. Returns nil without error when Redis is disabled.
func Connect(cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis connected successfully", "address", cfg.Address())
	return client, nil
}
