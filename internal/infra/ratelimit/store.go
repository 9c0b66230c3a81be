// Package ratelimit provides the limiter storage shared by the HTTP rate
// limiters.
package ratelimit

import (
	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"

	"logorender/internal/infra/logging"
)

// NewStore returns Redis-backed limiter storage at addr, or in-memory
// storage when addr is empty or Redis cannot be reached.
func NewStore(addr string, db int) (store fiber.Storage) {
	store = memoryStorage.New()
	if addr == "" {
		logging.Info("Using in-memory storage for rate limiting")
		return store
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{addr},
		Database: db,
	})
	logging.Info("Using Redis for rate limiting", "addr", addr, "db", db)
	return store
}
