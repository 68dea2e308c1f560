package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend keeps snapshots in process memory. Data is lost on exit.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[Collection][]json.RawMessage
	closed      bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[Collection][]json.RawMessage)}
}

func (m *MemoryBackend) Get(_ context.Context, c Collection) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return cloneRecords(m.collections[c]), nil
}

func (m *MemoryBackend) Put(_ context.Context, c Collection, records []json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.collections[c] = cloneRecords(records)
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// cloneRecords copies the slice and every record so callers never share buffers.
func cloneRecords(records []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, r := range records {
		out[i] = bytes.Clone(r)
	}
	return out
}
