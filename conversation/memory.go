package conversation

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore keeps histories in process memory. Reads and writes both
// count as use for eviction.
type MemoryStore struct {
	cache *lru.Cache[Key, []Entry]
}

// NewMemoryStore holds at most capacity keys; the LRU drops the least
// recently used key on overflow even before the Cache's own check runs.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	cache, err := lru.New[Key, []Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (m *MemoryStore) Load(_ context.Context, key Key) ([]Entry, error) {
	entries, ok := m.cache.Get(key)
	if !ok {
		return nil, nil
	}
	return append([]Entry(nil), entries...), nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, entries []Entry) error {
	m.cache.Add(key, append([]Entry(nil), entries...))
	return nil
}

func (m *MemoryStore) Len(context.Context) (int, error) {
	return m.cache.Len(), nil
}

func (m *MemoryStore) EvictOldest(_ context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, _, ok := m.cache.RemoveOldest(); !ok {
			break
		}
	}
	return nil
}
