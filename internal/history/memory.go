package history

import (
	"context"
	"slices"
	"sync"
)

// DefaultMemoryCapacity bounds a [MemoryStore] created with capacity <= 0.
const DefaultMemoryCapacity = 1000

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the most recent entries in a ring. Older entries are
// evicted once the capacity is reached.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	closed   bool
}

// NewMemoryStore creates a MemoryStore holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Append implements [Sink].
func (m *MemoryStore) Append(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries = append(m.entries, entries...)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = slices.Delete(m.entries, 0, over)
	}
	return nil
}

// Recent implements [Store].
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return []Entry{}, nil
	}
	start := max(len(m.entries)-limit, 0)
	return slices.Clone(m.entries[start:]), nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Ping implements [Store].
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Store].
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}
