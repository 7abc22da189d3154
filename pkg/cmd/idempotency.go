package cmd

import (
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/dripflow/dripflow/pkg/idempotency"
)

// NewActivationStore returns the shared activation dedup store. An empty
// redis URL falls back to the in-process store, which only protects a single
// engine instance.
func NewActivationStore(redisURL string, logger *slog.Logger) idempotency.Store {
	if redisURL == "" {
		logger.Warn("No redis URL configured, activation dedup is per-process only")

		return idempotency.NewMemoryStore()
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse redis URL: %w", err))
	}

	return idempotency.NewRedisStore(redis.NewClient(options))
}
