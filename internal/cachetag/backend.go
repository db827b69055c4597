package cachetag

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMiss is returned by Backend.Get when the key is absent.
var ErrMiss = errors.New("cachetag: miss")

// Backend stores values and groups keys under tags.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// RegisterTag adds key to tag. ttl is the lifetime of the entry being
	// registered; backends may expire the tag itself after it.
	RegisterTag(ctx context.Context, tag, key string, ttl time.Duration) error
	InvalidateTag(ctx context.Context, tag string) error
}

// MemoryBackend is a process-local Backend.
type MemoryBackend struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
	tags    map[string]map[string]struct{}
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		now:     time.Now,
		entries: map[string]memoryEntry{},
		tags:    map[string]map[string]struct{}{},
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) RegisterTag(_ context.Context, tag, key string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.tags[tag]
	if !ok {
		members = map[string]struct{}{}
		m.tags[tag] = members
	}
	members[key] = struct{}{}
	return nil
}

func (m *MemoryBackend) InvalidateTag(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.tags[tag] {
		delete(m.entries, key)
	}
	delete(m.tags, tag)
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
