// Package conversation keeps the rolling per-thread history fed to the chat
// model. History lives in a Store, either in process memory or in Redis so
// several replicas share it.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 20
	DefaultMaxKeys    = 100
)

// Entry is one turn of a conversation.
type Entry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Key identifies a conversation by channel and thread.
type Key struct {
	Channel string
	Thread  string
}

func (k Key) String() string {
	return k.Channel + ":" + k.Thread
}

// Store persists histories. Implementations must return entries in the
// order they were saved.
type Store interface {
	Load(ctx context.Context, key Key) ([]Entry, error)
	Save(ctx context.Context, key Key, entries []Entry) error
	// Len reports the number of stored keys.
	Len(ctx context.Context) (int, error)
	// EvictOldest removes the n least recently used keys.
	EvictOldest(ctx context.Context, n int) error
}

// Cache bounds each history to the most recent entries and the store to a
// fixed number of keys, evicting the least recently used.
type Cache struct {
	mu         sync.Mutex
	store      Store
	now        func() time.Time
	maxEntries int
	maxKeys    int
	ttl        time.Duration
}

type Option func(*Cache)

// WithClock sets the time source used to stamp entries and expire them.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLimits overrides the per-key entry cap and the key cap.
func WithLimits(maxEntries, maxKeys int) Option {
	return func(c *Cache) {
		c.maxEntries = maxEntries
		c.maxKeys = maxKeys
	}
}

// WithTTL starts a fresh history when the last turn is older than ttl.
// Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		now:        time.Now,
		maxEntries: DefaultMaxEntries,
		maxKeys:    DefaultMaxKeys,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds a turn and returns the resulting history, oldest first.
func (c *Cache) Append(ctx context.Context, key Key, role, text string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}

	entries = append(entries, Entry{Role: role, Text: text, At: c.now()})
	if len(entries) > c.maxEntries {
		entries = entries[len(entries)-c.maxEntries:]
	}

	if err := c.store.Save(ctx, key, entries); err != nil {
		return nil, fmt.Errorf("failed to save conversation %s: %w", key, err)
	}

	if err := c.enforceKeyLimit(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the history for key, oldest first.
func (c *Cache) Get(ctx context.Context, key Key) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, key)
}

func (c *Cache) load(ctx context.Context, key Key) ([]Entry, error) {
	entries, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", key, err)
	}
	if c.ttl > 0 && len(entries) > 0 && c.now().Sub(entries[len(entries)-1].At) > c.ttl {
		return nil, nil
	}
	return entries, nil
}

func (c *Cache) enforceKeyLimit(ctx context.Context) error {
	n, err := c.store.Len(ctx)
	if err != nil {
		return fmt.Errorf("failed to count conversations: %w", err)
	}
	if n <= c.maxKeys {
		return nil
	}
	if err := c.store.EvictOldest(ctx, n-c.maxKeys); err != nil {
		return fmt.Errorf("failed to evict conversations: %w", err)
	}
	return nil
}
