package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// MockStore is an in-memory implementation of Store for testing and local runs.
type MockStore struct {
	checkpoints map[Key]Checkpoint
	mu          sync.RWMutex
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{checkpoints: make(map[Key]Checkpoint)}
}

// GetCheckpoint returns a copy of the stored checkpoint.
func (m *MockStore) GetCheckpoint(ctx context.Context, key Key) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[key]
	if !ok {
		return nil, errors.NewNotFoundError("no checkpoint for " + key.String())
	}
	return &cp, nil
}

// UpdateCheckpoint stores cp, stamping UpdatedAt when unset.
func (m *MockStore) UpdateCheckpoint(ctx context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.checkpoints[cp.Key] = cp
	return nil
}

// Len returns the number of stored checkpoints.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints)
}
