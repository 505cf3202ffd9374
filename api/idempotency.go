package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-app/domain"
)

// pendingCreate marks a claimed key whose create has not finished yet.
const pendingCreate = "-"

// RedisDeduper remembers Idempotency-Key headers in Redis so a replayed
// create, on any instance, is answered with the todo the first one made.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper whose claims expire after ttl.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return "idem:" + domain.Collection + ":" + key
}

// Claim reserves key for a new create. When the key is already held it
// reports false along with the id created under it, which is empty while
// that create is still running.
func (r *RedisDeduper) Claim(ctx context.Context, key string) (bool, string, error) {
	claimed, err := r.client.SetNX(ctx, r.key(key), pendingCreate, r.ttl).Result()
	if err != nil || claimed {
		return claimed, "", err
	}
	id, err := r.client.Get(ctx, r.key(key)).Result()
	switch {
	case err == redis.Nil, id == pendingCreate:
		return false, "", nil
	case err != nil:
		return false, "", err
	}
	return false, id, nil
}

// Complete records the id of the todo created under a claimed key.
func (r *RedisDeduper) Complete(ctx context.Context, key, id string) error {
	return r.client.SetXX(ctx, r.key(key), id, r.ttl).Err()
}

// Release frees a claimed key so the client may retry the create.
func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
