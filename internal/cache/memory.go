package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coocood/freecache"
)

// DefaultMemorySize is the freecache arena size in bytes
const DefaultMemorySize = 32 * 1024 * 1024

// MemoryStore is an in-process Store backed by freecache
type MemoryStore struct {
	cache *freecache.Cache
}

// NewMemoryStore allocates a store of the given size; freecache enforces a 512KB minimum
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &MemoryStore{cache: freecache.NewCache(size)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, err := m.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return m.cache.Set([]byte(key), value, ttlSeconds(ttl))
}

func (m *MemoryStore) ClearPrefix(_ context.Context, prefix string) error {
	var keys [][]byte
	it := m.cache.NewIterator()
	for entry := it.Next(); entry != nil; entry = it.Next() {
		if strings.HasPrefix(string(entry.Key), prefix) {
			keys = append(keys, entry.Key)
		}
	}
	for _, k := range keys {
		m.cache.Del(k)
	}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.cache.Clear()
	return nil
}

// Len returns the number of live entries
func (m *MemoryStore) Len() int64 {
	return m.cache.EntryCount()
}

// ttlSeconds rounds up so a sub-second TTL does not become "never expire"
func ttlSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	s := int(ttl / time.Second)
	if ttl%time.Second != 0 {
		s++
	}
	return s
}
