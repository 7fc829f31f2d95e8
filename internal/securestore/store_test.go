package securestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScryptN = 1 << 10

func openTestFileStore(t *testing.T, path, pass string) *FileStore {
	t.Helper()
	s, err := OpenFileStore(path, []byte(pass), FileOptions{ScryptN: testScryptN})
	require.NoError(t, err)
	return s
}

func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "wallet.secret", []byte("first")))
	require.NoError(t, s.Set(ctx, "wallet.secret", []byte("second")))
	got, err := s.Get(ctx, "wallet.secret")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	require.NoError(t, s.Delete(ctx, "wallet.secret"))
	require.NoError(t, s.Delete(ctx, "wallet.secret"), "delete is idempotent")
	_, err = s.Get(ctx, "wallet.secret")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStorage(t, NewMemoryStore())
}

func TestKeyringStore(t *testing.T) {
	exerciseStorage(t, NewKeyringStore(keyring.NewArrayKeyring(nil), "pezkuwi-test"))
}

func TestFileStore(t *testing.T) {
	exerciseStorage(t, openTestFileStore(t, filepath.Join(t.TempDir(), "secrets.json"), "correct horse"))
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")

	s := openTestFileStore(t, path, "correct horse")
	require.NoError(t, s.Set(ctx, "kyc.status", []byte(`{"state":"submitted"}`)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened := openTestFileStore(t, path, "correct horse")
	got, err := reopened.Get(ctx, "kyc.status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"submitted"}`, string(got))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "submitted", "values must not be stored in clear")
}

func TestFileStoreRejectsWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	openTestFileStore(t, path, "correct horse")

	_, err := OpenFileStore(path, []byte("battery staple"), FileOptions{ScryptN: testScryptN})
	require.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestFileStoreDetectsSwappedEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.json")
	s := openTestFileStore(t, path, "pw")
	require.NoError(t, s.Set(ctx, "a", []byte("alpha")))
	require.NoError(t, s.Set(ctx, "b", []byte("beta")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc fileFormat
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc.Entries["a"], doc.Entries["b"] = doc.Entries["b"], doc.Entries["a"]
	raw, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	tampered := openTestFileStore(t, path, "pw")
	_, err = tampered.Get(ctx, "a")
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := OpenFileStore(path, []byte("pw"), FileOptions{ScryptN: testScryptN})
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestFileStoreReadsOnlyWhatItWrote(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.json")
	s := openTestFileStore(t, path, "pw")
	require.NoError(t, s.Set(ctx, "a", []byte("alpha")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append([]byte("\xef\xbb\xbf"), raw...), 0o600))

	_, err = OpenFileStore(path, []byte("pw"), FileOptions{ScryptN: testScryptN})
	require.ErrorIs(t, err, ErrCorrupted)
}
