// Package redis keeps revoked token identifiers in Redis.
// Entries expire together with the tokens, so no cleanup job is needed.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authhub/internal/repository"
)

const DefaultPrefix = "authhub:revoked:"

// Keys never get TTL below this, even for already expired tokens
const minTTL = time.Second

// Storage replaces revocation repository of the wrapped storage with the Redis one
// Users are still served by the wrapped storage
type Storage struct {
	repository.Storage

	rdb    redis.UniversalClient
	prefix string
}

func NewStorage(base repository.Storage, rdb redis.UniversalClient, prefix string) repository.Storage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Storage{Storage: base, rdb: rdb, prefix: prefix}
}

func (s *Storage) Revocation() repository.RevocationRepo {
	return &RevocationRepo{RDB: s.rdb, Prefix: s.prefix, Now: time.Now}
}

// Redis writes are not part of the wrapped transaction
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return s.Storage.InTx(ctx, func(tx repository.Storage) error {
		return fn(&Storage{Storage: tx, rdb: s.rdb, prefix: s.prefix})
	})
}

type RevocationRepo struct {
	RDB    redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

func (r *RevocationRepo) key(tokenID string) string {
	return r.Prefix + tokenID
}

func (r *RevocationRepo) ttl(expiresAt time.Time) time.Duration {
	return max(expiresAt.Sub(r.Now()), minTTL)
}

func (r *RevocationRepo) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	key := r.key(tokenID)
	ttl := r.ttl(expiresAt)

	created, err := r.RDB.SetNX(ctx, key, strconv.FormatInt(expiresAt.Unix(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	if created {
		return true, nil
	}

	// Already revoked, extend the entry lifetime if the new expiry is later
	current, err := r.RDB.PTTL(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	if current >= 0 && current < ttl {
		if err := r.RDB.PExpire(ctx, key, ttl).Err(); err != nil {
			return false, fmt.Errorf("redis error: %w", err)
		}
	}

	return false, nil
}

func (r *RevocationRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.RDB.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}

	return n > 0, nil
}

// Keys expire on their own
func (r *RevocationRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
