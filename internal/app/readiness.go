// Package app assembles the ops HTTP surface: readiness checks and the
// router for health, metrics, stats, and the message edge.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the minimal interface for a Redis client needed for
// readiness.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// BuildReadinessChecks returns the readiness check for the store. The
// broker has exactly one hard dependency; the archiver is optional and
// never gates readiness.
func BuildReadinessChecks(rdb RedisClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
