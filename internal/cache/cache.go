// Package cache holds a TTL-bounded LRU and a read-through user cache for
// the ledger store. Budget and report runs look the same users up once per
// budget or account; users change rarely.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(key string) (T, bool)

	// Set stores a value in the cache
	Set(key string, data T)

	// Delete removes a key from the cache
	Delete(key string)

	// Size returns the current number of items in the cache
	Size() int
}

// Stats counts lookups since creation.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// UserStore is a ledger.Store whose GetUser is served from cache. Every
// other method goes straight to the wrapped store.
type UserStore struct {
	ledger.Store
	users  Cache[core.User]
	hits   atomic.Int64
	misses atomic.Int64
}

var _ ledger.Store = (*UserStore)(nil)

// NewUserStore wraps store with an LRU of maxSize users kept for ttl.
func NewUserStore(store ledger.Store, maxSize int, ttl time.Duration) *UserStore {
	return &UserStore{
		Store: store,
		users: NewLRUCache[core.User](maxSize, ttl),
	}
}

func (s *UserStore) GetUser(ctx context.Context, id string) (core.User, error) {
	if u, ok := s.users.Get(id); ok {
		s.hits.Add(1)
		return u, nil
	}
	s.misses.Add(1)

	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return core.User{}, err
	}
	s.users.Set(id, u)
	return u, nil
}

// CreateUser writes through and drops any stale entry.
func (s *UserStore) CreateUser(ctx context.Context, u core.User) error {
	if err := s.Store.CreateUser(ctx, u); err != nil {
		return err
	}
	s.users.Delete(u.ID)
	return nil
}

func (s *UserStore) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Size:   s.users.Size(),
	}
}
