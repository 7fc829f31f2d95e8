// Package securestore keeps small secrets (wallet mnemonic, KYC records)
// encrypted at rest behind a key/value interface.
package securestore

import (
	"context"
	"sync"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

var (
	// ErrNotFound is returned by Get when the key has never been set or was deleted.
	ErrNotFound = apperr.Conflict("secret_not_found", "secret not found")
	// ErrCorrupted is returned when stored data cannot be decrypted or decoded.
	ErrCorrupted = apperr.Integrity("secret_corrupted", "stored secret unreadable")
)

// Storage is scoped key/value persistence with encryption at rest.
type Storage interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a process-local Storage for tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		clear(v)
		delete(s.items, key)
	}
	return nil
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
