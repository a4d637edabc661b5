package cache

import (
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TieredStore holds feed results in memory for the current run and on disk
// across runs. An entry promoted from disk keeps its disk expiry.
type TieredStore struct {
	mem  *MemoryCache
	disk *DiskCache
}

// NewTieredStore creates a store whose disk layer lives in dir
func NewTieredStore(memoryTTL time.Duration, dir string, diskTTL time.Duration) *TieredStore {
	return &TieredStore{
		mem:  NewMemoryCache(memoryTTL, 10*time.Minute),
		disk: NewDiskCache(dir, diskTTL),
	}
}

func (s *TieredStore) Get(key string) ([]byte, bool) {
	if val, ok := s.mem.Get(key); ok {
		return val, true
	}

	val, expires, ok := s.disk.lookup(key)
	if !ok {
		return nil, false
	}
	ttl := gocache.DefaultExpiration
	if !expires.IsZero() {
		if ttl = time.Until(expires); ttl <= 0 {
			return nil, false
		}
	}
	_ = s.mem.Set(key, val, ttl)
	return val, true
}

// Set writes the disk layer first, so memory never holds an entry a later run cannot see
func (s *TieredStore) Set(key string, value []byte, ttl time.Duration) error {
	if err := s.disk.Set(key, value, ttl); err != nil {
		return err
	}
	return s.mem.Set(key, value, ttl)
}

func (s *TieredStore) Delete(key string) error {
	return errors.Join(s.mem.Delete(key), s.disk.Delete(key))
}
