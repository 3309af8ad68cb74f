package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStorage is a mutex-guarded Storage for tests and local
// development. PutIfAbsent makes it a valid atomic reservation backend.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: map[string][]byte{}}
}

func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, fmt.Errorf("core: memory storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("core: storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryStorage) Put(_ context.Context, key string, value []byte) error {
	if s == nil {
		return fmt.Errorf("core: memory storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("core: memory storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStorage) PutIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: memory storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = append([]byte(nil), value...)
	return true, nil
}

// ListKeys returns the stored keys with the given prefix, for operator
// listings over small key spaces.
func (s *MemoryStorage) ListKeys(_ context.Context, prefix string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

var (
	_ AtomicStorage = (*MemoryStorage)(nil)
	_ KeyLister     = (*MemoryStorage)(nil)
)
