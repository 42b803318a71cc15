package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Revocations are stored as JSON under key "<prefix><org>:<userId>" with
// TTL = expiresAt - now, so every instance behind a load balancer sees them.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based revocation repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "revoked:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

// org ids never contain ':' so the key is unambiguous
func (r *RedisRepository) key(org, userID string) string {
	return r.prefix + org + ":" + userID
}

func (r *RedisRepository) Put(ctx context.Context, rev *Revocation) error {
	b, err := json.Marshal(rev)
	if err != nil {
		return err
	}
	exp := time.Until(rev.ExpiresAt)
	if exp <= 0 {
		// ensure a minimal TTL so Redis won't keep expired revocations
		exp = time.Second
	}
	return r.client.Set(ctx, r.key(rev.Organization, rev.UserID), b, exp).Err()
}

func (r *RedisRepository) Get(ctx context.Context, org, userID string) (*Revocation, error) {
	b, err := r.client.Get(ctx, r.key(org, userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var rev Revocation
	if err := json.Unmarshal(b, &rev); err != nil {
		return nil, err
	}
	return &rev, nil
}

func (r *RedisRepository) Delete(ctx context.Context, org, userID string) error {
	return r.client.Del(ctx, r.key(org, userID)).Err()
}
