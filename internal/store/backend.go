package store

import (
	"context"
	"encoding/json"
	"fmt"

	"kami.app/kami-server/internal/config"
)

// Collection names one whole-snapshot record set.
type Collection string

const (
	CollectionUsers       Collection = "users"
	CollectionCredentials Collection = "credentials"
	CollectionTokens      Collection = "tokens"
	CollectionRevoked     Collection = "revoked_tokens"
	CollectionGods        Collection = "gods"
	CollectionMessages    Collection = "messages"
)

// Backend persists collection snapshots. Get returns the records in the order they were
// last Put; an unknown collection reads as empty. Put replaces the whole snapshot.
type Backend interface {
	Get(ctx context.Context, c Collection) ([]json.RawMessage, error)
	Put(ctx context.Context, c Collection, records []json.RawMessage) error
	Close() error
}

// Open builds the backend selected in the configuration.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	case config.BackendBolt:
		return NewBoltBackend(cfg.DatabaseURL)
	case config.BackendSQLite:
		return NewSQLiteBackend(ctx, cfg.DatabaseURL)
	case config.BackendRedis:
		return NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// encodeSnapshot produces the JSON array every non-memory backend stores per collection.
func encodeSnapshot(records []json.RawMessage) ([]byte, error) {
	if records == nil {
		records = []json.RawMessage{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return []json.RawMessage{}, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

func getAll[T any](ctx context.Context, b Backend, c Collection) ([]T, error) {
	raw, err := b.Get(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c, err)
	}
	items := make([]T, 0, len(raw))
	for i, r := range raw {
		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			return nil, fmt.Errorf("failed to decode %s record %d: %w", c, i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func putAll[T any](ctx context.Context, b Backend, c Collection, items []T) error {
	raw := make([]json.RawMessage, 0, len(items))
	for i := range items {
		data, err := json.Marshal(items[i])
		if err != nil {
			return fmt.Errorf("failed to encode %s record %d: %w", c, i, err)
		}
		raw = append(raw, data)
	}
	if err := b.Put(ctx, c, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", c, err)
	}
	return nil
}
