package keys

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

// DefaultSS58Prefix is the generic Substrate network identifier used by the
// Pezkuwi test network.
const DefaultSS58Prefix uint16 = 42

const checksumLen = 2

var (
	ss58Prefix = []byte("SS58PRE")

	// ErrInvalidAddress is returned for strings that are not SS58 account
	// addresses for the expected network.
	ErrInvalidAddress = apperr.Validation("invalid_address", "invalid address")
)

// EncodeAddress renders a 32-byte public key as an SS58 address.
func EncodeAddress(pub []byte, prefix uint16) (string, error) {
	if len(pub) != PublicKeySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(pub))
	}
	var payload []byte
	switch {
	case prefix < 64:
		payload = []byte{byte(prefix)}
	case prefix < 16384:
		first := byte((prefix&0b0000_0000_1111_1100)>>2) | 0b0100_0000
		second := byte(prefix>>8) | byte((prefix&0b11)<<6)
		payload = []byte{first, second}
	default:
		return "", fmt.Errorf("ss58 prefix %d out of range", prefix)
	}
	payload = append(payload, pub...)
	sum := checksum(payload)
	return base58.Encode(append(payload, sum[:checksumLen]...)), nil
}

// DecodeAddress parses an SS58 address into its public key and network prefix.
func DecodeAddress(addr string) (PublicKey, uint16, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, 0, apperr.Wrap(ErrInvalidAddress, err)
	}
	if len(raw) == 0 {
		return nil, 0, apperr.Wrapf(ErrInvalidAddress, nil, "empty address")
	}

	var (
		prefix    uint16
		prefixLen int
	)
	switch {
	case raw[0] < 64:
		prefix, prefixLen = uint16(raw[0]), 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return nil, 0, apperr.Wrapf(ErrInvalidAddress, nil, "truncated prefix")
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0b0011_1111
		prefix, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	default:
		return nil, 0, apperr.Wrapf(ErrInvalidAddress, nil, "reserved prefix byte %d", raw[0])
	}

	if len(raw) != prefixLen+PublicKeySize+checksumLen {
		return nil, 0, apperr.Wrapf(ErrInvalidAddress, nil, "unexpected length %d", len(raw))
	}
	body := raw[:len(raw)-checksumLen]
	sum := checksum(body)
	if !bytes.Equal(sum[:checksumLen], raw[len(raw)-checksumLen:]) {
		return nil, 0, apperr.Wrapf(ErrInvalidAddress, nil, "checksum mismatch")
	}
	pub := make([]byte, PublicKeySize)
	copy(pub, body[prefixLen:])
	return pub, prefix, nil
}

// ValidateAddress checks that addr decodes and belongs to network prefix.
func ValidateAddress(addr string, prefix uint16) error {
	_, got, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if got != prefix {
		return apperr.Wrapf(ErrInvalidAddress, nil, "network prefix %d, expected %d", got, prefix)
	}
	return nil
}

func checksum(payload []byte) [blake2b.Size]byte {
	buf := make([]byte, 0, len(ss58Prefix)+len(payload))
	buf = append(buf, ss58Prefix...)
	buf = append(buf, payload...)
	return blake2b.Sum512(buf)
}
