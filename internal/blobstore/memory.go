package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryguy/nativestream/internal/core"
)

// Memory keeps blobs in a map. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	b := make([]byte, len(data))
	copy(b, data)
	m.mu.Lock()
	m.blobs[key] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Size(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return 0, fmt.Errorf("blob %q: %w", key, core.ErrBlobNotFound)
	}
	return int64(len(b)), nil
}

func (m *Memory) ReadRange(_ context.Context, key string, off, n int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", key, core.ErrBlobNotFound)
	}
	start, end, err := clampRange(int64(len(b)), off, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, end-start)
	copy(out, b[start:end])
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
