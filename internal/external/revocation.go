package external

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/stacks-wars/lobbyd/internal/apperror"
	"github.com/stacks-wars/lobbyd/internal/store/keys"
)

// RedisRevocationStore answers revocation checks against a Redis key set
// by the platform's auth service on logout/rotation, using the same
// go-redis client as runtime state.
type RedisRevocationStore struct {
	rdb *redis.Client
}

func NewRedisRevocationStore(rdb *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{rdb: rdb}
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, keys.Revoked(jti)).Result()
	if err != nil {
		return false, apperror.Internal(err)
	}
	return n > 0, nil
}
