package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"apotekpos/backend/internal/store"
)

// RedisSnapshotStore keeps ledger documents in redis with a sliding TTL,
// so an abandoned cart eventually expires on its own.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotStore(addr string, password string, db int, ttl time.Duration) *RedisSnapshotStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func (c *RedisSnapshotStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSnapshotStore) Close() error {
	return c.client.Close()
}

func (c *RedisSnapshotStore) GetSnapshot(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisSnapshotStore) PutSnapshot(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return store.ErrInvalid
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

func (c *RedisSnapshotStore) DeleteSnapshot(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
