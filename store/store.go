package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// ErrInvalidKey is returned for empty or whitespace-only keys.
var ErrInvalidKey = errors.New("store: key is invalid")

// Store is the persistence port. Values are JSON documents.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines where applicable.
// - Errors: Get reports absence via the bool, not an error.
type Store interface {
	// Get retrieves a value. The bool is false on miss.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Set stores a value, replacing any existing one.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes a value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Contains reports whether a value exists for the key.
	Contains(ctx context.Context, key string) (bool, error)

	// All returns a snapshot of every entry.
	All(ctx context.Context) (map[string]json.RawMessage, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// ValidateKey checks whether a key is acceptable.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// Memory is an in-memory Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]json.RawMessage)}
}

// Get retrieves a value. The bool is false on miss.
func (m *Memory) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

// Set stores a value.
func (m *Memory) Set(_ context.Context, key string, value json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append(json.RawMessage(nil), value...)
	return nil
}

// Delete removes a value.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Contains reports whether a value exists.
func (m *Memory) Contains(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

// All returns a snapshot of every entry.
func (m *Memory) All(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.entries))
	for k, v := range m.entries {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

// Clear removes all entries.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]json.RawMessage)
	return nil
}

// Ensure Memory implements Store
var _ Store = (*Memory)(nil)
