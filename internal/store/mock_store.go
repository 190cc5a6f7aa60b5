// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.Mutex
	state       map[string][]byte // keyed by actor key
	invocations []*Invocation
	nextID      int64

	// FailWrites makes every state write return an error.
	FailWrites bool
}

// ErrMockWrite is returned by writes when FailWrites is set.
var ErrMockWrite = errors.New("mock store: write failed")

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		state: make(map[string][]byte),
	}
}

// GetActorState returns a copy of the stored state.
func (m *MockStore) GetActorState(ctx context.Context, actorKey string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state[actorKey]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s...), nil
}

// SaveActorState stores a copy of state.
func (m *MockStore) SaveActorState(ctx context.Context, actorKey string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return ErrMockWrite
	}
	m.state[actorKey] = append([]byte(nil), state...)
	return nil
}

// UpdateActorState applies fn under the store lock.
func (m *MockStore) UpdateActorState(ctx context.Context, actorKey string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if s, ok := m.state[actorKey]; ok {
		current = append([]byte(nil), s...)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if m.FailWrites {
		return ErrMockWrite
	}
	m.state[actorKey] = append([]byte(nil), next...)
	return nil
}

// RecordInvocation appends to the in-memory log.
func (m *MockStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	c := *inv
	c.ID = m.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	inv.ID = c.ID
	m.invocations = append(m.invocations, &c)
	return nil
}

// ListInvocations returns invocations for actorKey, newest first.
func (m *MockStore) ListInvocations(ctx context.Context, actorKey string, limit int) ([]*Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Invocation
	for i := len(m.invocations) - 1; i >= 0; i-- {
		if m.invocations[i].ActorKey != actorKey {
			continue
		}
		c := *m.invocations[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure implementations satisfy the interface.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MockStore)(nil)
)
