package keys

import (
	"crypto/sha512"
	"math/big"
	"strings"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/cosmos/go-bip39"
	"golang.org/x/crypto/pbkdf2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

const (
	entropyBits     = 128
	pbkdf2Rounds    = 2048
	miniSecretBytes = 32
)

// ErrInvalidMnemonic is returned for phrases that fail word-list or checksum
// validation.
var ErrInvalidMnemonic = apperr.Validation("invalid_mnemonic", "invalid recovery phrase")

// NormalizeMnemonic lower-cases the phrase and collapses whitespace.
func NormalizeMnemonic(m string) string {
	return strings.Join(strings.Fields(strings.ToLower(m)), " ")
}

// GenerateMnemonic returns a fresh 12-word phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", err
	}
	defer clear(entropy)
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic checks word list membership and the BIP-39 checksum.
func ValidateMnemonic(m string) error {
	if _, err := mnemonicEntropy(NormalizeMnemonic(m)); err != nil {
		return err
	}
	return nil
}

// deriveKeyPair follows the Substrate sr25519 convention: the mini secret is
// derived from the BIP-39 entropy (not the phrase) with PBKDF2-SHA512, its
// first 32 bytes are expanded in Ed25519 mode, as polkadot-js and subkey do.
func deriveKeyPair(mnemonic, password string) (*schnorrkel.SecretKey, PublicKey, error) {
	entropy, err := mnemonicEntropy(mnemonic)
	if err != nil {
		return nil, nil, err
	}
	defer clear(entropy)

	seed := pbkdf2.Key(entropy, []byte("mnemonic"+password), pbkdf2Rounds, 64, sha512.New)
	defer clear(seed)

	var raw [miniSecretBytes]byte
	copy(raw[:], seed[:miniSecretBytes])
	defer clear(raw[:])
	mini, err := schnorrkel.NewMiniSecretKeyFromRaw(raw)
	if err != nil {
		return nil, nil, err
	}
	sk := mini.ExpandEd25519()
	pk, err := sk.Public()
	if err != nil {
		return nil, nil, err
	}
	pub := pk.Encode()
	return sk, PublicKey(pub[:]), nil
}

// mnemonicEntropy strips the checksum bits that MnemonicToByteArray keeps at
// the low end of its output.
func mnemonicEntropy(mnemonic string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	raw, err := bip39.MnemonicToByteArray(mnemonic)
	if err != nil {
		return nil, apperr.Wrap(ErrInvalidMnemonic, err)
	}
	defer clear(raw)

	words := len(strings.Fields(mnemonic))
	totalBits := words * 11
	checksumBits := totalBits / 33
	entropyLen := (totalBits - checksumBits) / 8

	n := new(big.Int).SetBytes(raw)
	n.Rsh(n, uint(checksumBits))
	return n.FillBytes(make([]byte, entropyLen)), nil
}
