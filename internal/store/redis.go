// Package store holds the Redis-backed runtime state repositories: lobby
// state, player state, and chat history. Lobby and player state are
// serialized to flat string-keyed hashes, one hash per entity; chat
// messages and game summaries are stored as JSON strings.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient builds the shared Redis client. Callers wire it explicitly;
// there is no package-global client.
func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
}

// Ping verifies connectivity at startup.
func Ping(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
