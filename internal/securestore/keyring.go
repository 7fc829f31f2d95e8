package securestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

// KeyringConfig selects the OS credential store used by OpenKeyring.
type KeyringConfig struct {
	ServiceName string
	// Backends restricts the keyring backends; empty means the platform default order.
	Backends []string
	// FileDir and Passphrase configure the encrypted-file fallback backend.
	FileDir    string
	Passphrase string
}

// KeyringStore adapts an OS keychain (macOS Keychain, Secret Service,
// Windows Credential Manager, or keyring's encrypted file backend).
type KeyringStore struct {
	mu      sync.Mutex
	ring    keyring.Keyring
	service string
}

// OpenKeyring opens the configured keyring.
func OpenKeyring(cfg KeyringConfig) (*KeyringStore, error) {
	allowed := make([]keyring.BackendType, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		allowed = append(allowed, keyring.BackendType(b))
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:             cfg.ServiceName,
		AllowedBackends:         allowed,
		KeychainName:            "login",
		LibSecretCollectionName: "login",
		FileDir:                 cfg.FileDir,
		FilePasswordFunc:        keyring.FixedStringPrompt(cfg.Passphrase),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringStore(ring, cfg.ServiceName), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring, service string) *KeyringStore {
	return &KeyringStore{ring: ring, service: service}
}

func (s *KeyringStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ring.Set(keyring.Item{
		Key:         key,
		Data:        append([]byte(nil), value...),
		Label:       s.service + " " + key,
		Description: "pezkuwi wallet secret",
	})
	if err != nil {
		return fmt.Errorf("failed to write keyring item %s: %w", key, err)
	}
	return nil
}

func (s *KeyringStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring item %s: %w", key, err)
	}
	return item.Data, nil
}

func (s *KeyringStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove keyring item %s: %w", key, err)
	}
	return nil
}
