package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyCollection = "kami:collection:%s"

// RedisBackend keeps each collection snapshot as a JSON string value.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Get(ctx context.Context, c Collection) ([]json.RawMessage, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf(keyCollection, c)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", c, err)
	}
	return decodeSnapshot(data)
}

func (r *RedisBackend) Put(ctx context.Context, c Collection, records []json.RawMessage) error {
	data, err := encodeSnapshot(records)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, fmt.Sprintf(keyCollection, c), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set collection %s: %w", c, err)
	}
	return nil
}

// Clear removes every collection key. Used by tests sharing a redis database.
func (r *RedisBackend) Clear(ctx context.Context, collections ...Collection) error {
	keys := make([]string, 0, len(collections))
	for _, c := range collections {
		keys = append(keys, fmt.Sprintf(keyCollection, c))
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
