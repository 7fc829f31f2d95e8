package kyc

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

// canonicalVersion prefixes the serialisation so a future layout change
// cannot produce colliding digests.
const canonicalVersion = "pezkuwi/kyc-form/v1"

// CanonicalHash returns "0x" followed by the hex blake2b-256 digest of the
// canonical serialisation of f. Strings are trimmed and NFC-normalised,
// every field is length-prefixed in a fixed order, and children are sorted
// by Order, so equal forms always hash identically.
func CanonicalHash(f Form) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for keys longer than 64 bytes
	}

	writeString(h, canonicalVersion)
	for _, v := range []string{
		f.FullName,
		f.FatherName,
		f.GrandfatherName,
		f.GreatGrandfatherName,
		f.MotherName,
		string(f.MaritalStatus),
		f.SpouseName,
		string(f.Region),
		f.Photo,
	} {
		writeString(h, v)
	}

	children := append([]Child(nil), f.Children...)
	sort.SliceStable(children, func(i, j int) bool { return children[i].Order < children[j].Order })
	writeUvarint(h, uint64(len(children)))
	for _, c := range children {
		writeUvarint(h, uint64(c.Order))
		writeString(h, c.Name)
	}

	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func writeString(h hash.Hash, s string) {
	s = norm.NFC.String(strings.TrimSpace(s))
	writeUvarint(h, uint64(len(s)))
	h.Write([]byte(s))
}

func writeUvarint(h hash.Hash, n uint64) {
	var buf [binary.MaxVarintLen64]byte
	h.Write(buf[:binary.PutUvarint(buf[:], n)])
}

// IsCommitmentHash reports whether s has the shape CanonicalHash produces.
func IsCommitmentHash(s string) bool {
	if len(s) != 2+2*blake2b.Size256 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
