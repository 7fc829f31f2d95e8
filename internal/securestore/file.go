package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

const (
	fileVersion = 1

	// DefaultScryptN is the production work factor.
	DefaultScryptN = 1 << 18
	scryptR        = 8
	scryptP        = 1
	scryptKeyLen   = 32
	saltLen        = 32
	nonceLen       = 12

	checkLabel = "pezkuwi-securestore-check"
)

// ErrWrongPassphrase is returned by OpenFileStore when the passphrase does
// not unlock an existing store.
var ErrWrongPassphrase = apperr.Integrity("store_passphrase", "secure store passphrase rejected")

type kdfParams struct {
	N    int    `json:"n"`
	R    int    `json:"r"`
	P    int    `json:"p"`
	Salt string `json:"salt"`
}

type sealed struct {
	Nonce      string `json:"nonce"`
	CipherText string `json:"ciphertext"`
}

type fileFormat struct {
	Version int               `json:"version"`
	KDF     kdfParams         `json:"kdf"`
	Check   sealed            `json:"check"`
	Entries map[string]sealed `json:"entries"`
}

// FileStore keeps every entry in one JSON file. Entries are sealed with
// AES-256-GCM under a key derived once from the passphrase with scrypt; the
// entry name is bound as additional data so ciphertexts cannot be swapped
// between keys.
type FileStore struct {
	mu   sync.Mutex
	path string
	aead cipher.AEAD
	doc  fileFormat
}

// FileOptions tunes OpenFileStore. Zero values select production defaults.
type FileOptions struct {
	ScryptN int
}

// OpenFileStore opens the store at path, creating it when missing.
// passphrase is not retained; callers should clear it afterwards.
func OpenFileStore(path string, passphrase []byte, opts FileOptions) (*FileStore, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("secure store passphrase is required")
	}
	n := opts.ScryptN
	if n == 0 {
		n = DefaultScryptN
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return createFileStore(path, passphrase, n)
	case err != nil:
		return nil, fmt.Errorf("failed to read secure store: %w", err)
	}

	var doc fileFormat
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(ErrCorrupted, fmt.Errorf("failed to unmarshal secure store: %w", err))
	}
	if doc.Version != fileVersion {
		return nil, apperr.Wrap(ErrCorrupted, fmt.Errorf("unsupported secure store version %d", doc.Version))
	}
	salt, err := base64.StdEncoding.DecodeString(doc.KDF.Salt)
	if err != nil {
		return nil, apperr.Wrap(ErrCorrupted, fmt.Errorf("failed to decode salt: %w", err))
	}
	aead, err := deriveAEAD(passphrase, salt, doc.KDF.N, doc.KDF.R, doc.KDF.P)
	if err != nil {
		return nil, err
	}

	check, err := open(aead, doc.Check, checkLabel)
	if err != nil || subtle.ConstantTimeCompare(check, []byte(checkLabel)) != 1 {
		return nil, ErrWrongPassphrase
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]sealed)
	}

	return &FileStore{path: path, aead: aead, doc: doc}, nil
}

func createFileStore(path string, passphrase []byte, n int) (*FileStore, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := deriveAEAD(passphrase, salt, n, scryptR, scryptP)
	if err != nil {
		return nil, err
	}
	check, err := seal(aead, []byte(checkLabel), checkLabel)
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		path: path,
		aead: aead,
		doc: fileFormat{
			Version: fileVersion,
			KDF:     kdfParams{N: n, R: scryptR, P: scryptP, Salt: base64.StdEncoding.EncodeToString(salt)},
			Check:   check,
			Entries: make(map[string]sealed),
		},
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secure store directory: %w", err)
	}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := seal(s.aead, value, key)
	if err != nil {
		return err
	}
	prev, had := s.doc.Entries[key]
	s.doc.Entries[key] = entry
	if err := s.flush(); err != nil {
		if had {
			s.doc.Entries[key] = prev
		} else {
			delete(s.doc.Entries, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.doc.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	plaintext, err := open(s.aead, entry, key)
	if err != nil {
		return nil, apperr.Wrap(ErrCorrupted, err)
	}
	return plaintext, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.doc.Entries[key]
	if !ok {
		return nil
	}
	delete(s.doc.Entries, key)
	if err := s.flush(); err != nil {
		s.doc.Entries[key] = prev
		return err
	}
	return nil
}

// flush writes the document atomically. Callers hold s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secure store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".securestore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write secure store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync secure store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close secure store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace secure store: %w", err)
	}
	return nil
}

func deriveAEAD(passphrase, salt []byte, n, r, p int) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, n, r, p, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func seal(aead cipher.AEAD, plaintext []byte, label string) (sealed, error) {
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return sealed{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, []byte(label))
	return sealed{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		CipherText: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

func open(aead cipher.AEAD, entry sealed, label string) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errors.New("invalid nonce length")
	}
	ct, err := base64.StdEncoding.DecodeString(entry.CipherText)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ct, []byte(label))
	if err != nil {
		return nil, errors.New("authentication failed")
	}
	return plaintext, nil
}
