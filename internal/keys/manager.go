package keys

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/securestore"
)

// SecretKey is the storage key holding the wallet secret record.
const SecretKey = "wallet.secret"

var (
	// ErrNoWalletFound means no secret has been created on this device, or it was deleted.
	ErrNoWalletFound = apperr.Conflict("no_wallet", "no wallet found")
	// ErrCorruptedSecret means a secret exists but cannot be decoded; the user must re-import.
	ErrCorruptedSecret = apperr.Integrity("corrupted_secret", "stored wallet secret is unreadable")
	// ErrWalletExists means a different wallet is already stored and the caller
	// did not confirm replacing it.
	ErrWalletExists = apperr.Conflict("wallet_exists", "a wallet already exists on this device")
)

// WalletKey is the public half of the active identity.
type WalletKey struct {
	Address   string    `json:"address"`
	PublicKey PublicKey `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

type secretRecord struct {
	Version   int       `json:"version"`
	Mnemonic  string    `json:"mnemonic"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager owns the device's single wallet secret. Every operation that
// touches the secret or the loaded key holds mu, so a Restore racing a
// Delete cannot leave a key loaded after the secret is gone.
type Manager struct {
	mu     sync.Mutex
	store  securestore.Storage
	prefix uint16
	logger *slog.Logger

	active  *WalletKey
	private *schnorrkel.SecretKey
}

// NewManager builds a key manager over store for the given SS58 network.
func NewManager(store securestore.Storage, prefix uint16, logger *slog.Logger) *Manager {
	return &Manager{store: store, prefix: prefix, logger: logger}
}

// Create stores a new wallet secret. An empty mnemonic generates a fresh
// 12-word phrase; a supplied one must validate. It fails with ErrWalletExists
// when another wallet is stored; importing the stored phrase again just
// loads it.
func (m *Manager) Create(ctx context.Context, mnemonic string) (WalletKey, error) {
	return m.create(ctx, mnemonic, false)
}

// Replace is Create with the overwrite confirmed: the previous secret is
// destroyed irrecoverably.
func (m *Manager) Replace(ctx context.Context, mnemonic string) (WalletKey, error) {
	return m.create(ctx, mnemonic, true)
}

// Import is Create with a mandatory phrase.
func (m *Manager) Import(ctx context.Context, mnemonic string) (WalletKey, error) {
	if NormalizeMnemonic(mnemonic) == "" {
		return WalletKey{}, ErrInvalidMnemonic
	}
	return m.Create(ctx, mnemonic)
}

func (m *Manager) create(ctx context.Context, mnemonic string, overwrite bool) (WalletKey, error) {
	phrase := NormalizeMnemonic(mnemonic)
	if phrase == "" {
		generated, err := GenerateMnemonic()
		if err != nil {
			return WalletKey{}, err
		}
		phrase = generated
	}

	priv, pub, err := deriveKeyPair(phrase, "")
	if err != nil {
		return WalletKey{}, err
	}
	key, err := m.walletKey(pub, time.Now().UTC())
	if err != nil {
		return WalletKey{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !overwrite {
		existing, err := m.storedRecord(ctx)
		switch {
		case errors.Is(err, ErrNoWalletFound):
		case err != nil && !errors.Is(err, ErrCorruptedSecret):
			return WalletKey{}, err
		case err == nil && existing.Mnemonic == phrase:
			key.CreatedAt = existing.CreatedAt
			m.load(key, priv)
			return key, nil
		default:
			return WalletKey{}, ErrWalletExists
		}
	}

	record, err := json.Marshal(secretRecord{Version: 1, Mnemonic: phrase, CreatedAt: key.CreatedAt})
	if err != nil {
		return WalletKey{}, err
	}
	defer clear(record)

	if err := m.store.Set(ctx, SecretKey, record); err != nil {
		return WalletKey{}, err
	}
	m.load(key, priv)
	if m.logger != nil {
		m.logger.Info("wallet created", slog.String("address", key.Address), slog.Bool("imported", mnemonic != ""), slog.Bool("replaced", overwrite))
	}
	return key, nil
}

// Restore re-derives the key from the stored phrase and makes it active.
func (m *Manager) Restore(ctx context.Context) (WalletKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.storedRecord(ctx)
	if err != nil {
		return WalletKey{}, err
	}
	priv, pub, err := deriveKeyPair(record.Mnemonic, "")
	if err != nil {
		return WalletKey{}, apperr.Wrap(ErrCorruptedSecret, err)
	}
	key, err := m.walletKey(pub, record.CreatedAt)
	if err != nil {
		return WalletKey{}, apperr.Wrap(ErrCorruptedSecret, err)
	}
	m.load(key, priv)
	return key, nil
}

// storedRecord requires mu.
func (m *Manager) storedRecord(ctx context.Context) (secretRecord, error) {
	raw, err := m.store.Get(ctx, SecretKey)
	if errors.Is(err, securestore.ErrNotFound) {
		return secretRecord{}, ErrNoWalletFound
	}
	if errors.Is(err, securestore.ErrCorrupted) {
		return secretRecord{}, apperr.Wrap(ErrCorruptedSecret, err)
	}
	if err != nil {
		return secretRecord{}, err
	}
	defer clear(raw)

	var record secretRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return secretRecord{}, apperr.Wrap(ErrCorruptedSecret, err)
	}
	return record, nil
}

// HasWallet reports whether a secret is stored, without loading it.
func (m *Manager) HasWallet(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.store.Get(ctx, SecretKey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, securestore.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Active returns the loaded key, if any.
func (m *Manager) Active() (WalletKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return WalletKey{}, false
	}
	return *m.active, true
}

// Sign signs payload with the active key. It never performs I/O.
func (m *Manager) Sign(payload []byte) (Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.private == nil {
		return nil, ErrNoWalletFound
	}
	return sign(m.private, payload)
}

// SignFor builds a payload for the active key and signs it while holding the
// lock, so the returned key is the one that produced the signature.
func (m *Manager) SignFor(build func(WalletKey) []byte) (WalletKey, Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.private == nil || m.active == nil {
		return WalletKey{}, nil, ErrNoWalletFound
	}
	sig, err := sign(m.private, build(*m.active))
	if err != nil {
		return WalletKey{}, nil, err
	}
	return *m.active, sig, nil
}

// Delete wipes the stored secret and unloads the active key.
func (m *Manager) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(ctx, SecretKey); err != nil {
		return err
	}
	m.unload()
	if m.logger != nil {
		m.logger.Info("wallet deleted")
	}
	return nil
}

func (m *Manager) walletKey(pub PublicKey, createdAt time.Time) (WalletKey, error) {
	addr, err := EncodeAddress(pub, m.prefix)
	if err != nil {
		return WalletKey{}, err
	}
	return WalletKey{Address: addr, PublicKey: pub, CreatedAt: createdAt}, nil
}

// load and unload require mu.
func (m *Manager) load(key WalletKey, priv *schnorrkel.SecretKey) {
	m.unload()
	m.active = &key
	m.private = priv
}

func (m *Manager) unload() {
	m.private = nil
	m.active = nil
}
