// Package secrets holds the session-scoped secret values the run controller forwards to the run service.
package secrets

import (
	"context"
	"errors"
	"maps"
	"sync"
)

var ErrEmptyKey = errors.New("secret key is empty")

// Store is a key/value store of secret values for one studio session.
// Implementations are safe for concurrent use.
type Store interface {
	// Lookup returns the values of the requested keys that are present.
	Lookup(ctx context.Context, keys []string) (map[string]string, error)
	Put(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryStore keeps secrets in process memory. Values are lost when the session ends.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (m *MemoryStore) Lookup(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]string, len(keys))

	for _, key := range keys {
		if value, ok := m.values[key]; ok {
			found[key] = value
		}
	}

	return found, nil
}

func (m *MemoryStore) Put(_ context.Context, values map[string]string) error {
	if err := checkKeys(values); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	maps.Copy(m.values, values)

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
	}

	return nil
}

// Missing returns the keys of required that store does not hold, in the order given.
func Missing(ctx context.Context, store Store, required []string) ([]string, error) {
	if len(required) == 0 {
		return nil, nil
	}

	found, err := store.Lookup(ctx, required)
	if err != nil {
		return nil, err
	}

	var missing []string

	for _, key := range required {
		if _, ok := found[key]; !ok {
			missing = append(missing, key)
		}
	}

	return missing, nil
}

func checkKeys(values map[string]string) error {
	for key := range values {
		if key == "" {
			return ErrEmptyKey
		}
	}

	return nil
}
