package store

import (
	"context"
	"strconv"
	"sync"
)

// MemoryKV is an in-memory KV for tests and ephemeral runs.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) GetString(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) SetString(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) GetInt(ctx context.Context, key string) (int, bool, error) {
	v, ok, err := m.GetString(ctx, key)
	if !ok || err != nil {
		return 0, ok, err
	}
	return intFromString(v), true, nil
}

func (m *MemoryKV) SetInt(ctx context.Context, key string, value int) error {
	return m.SetString(ctx, key, strconv.Itoa(value))
}

func (m *MemoryKV) GetBool(ctx context.Context, key string) (bool, bool, error) {
	v, ok, err := m.GetString(ctx, key)
	if !ok || err != nil {
		return false, ok, err
	}
	return boolFromString(v), true, nil
}

func (m *MemoryKV) SetBool(ctx context.Context, key string, value bool) error {
	return m.SetString(ctx, key, strconv.FormatBool(value))
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Close() error { return nil }
