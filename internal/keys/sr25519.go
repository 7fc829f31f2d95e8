package keys

import (
	schnorrkel "github.com/ChainSafe/go-schnorrkel"
)

const (
	// PublicKeySize is the length of an sr25519 public key.
	PublicKeySize = 32
	// SignatureSize is the length of an encoded sr25519 signature.
	SignatureSize = 64
)

// signingContext is the schnorrkel context Substrate signs extrinsics under.
var signingContext = []byte("substrate")

// PublicKey is a raw 32-byte sr25519 public key.
type PublicKey []byte

// Signature is a 64-byte sr25519 signature. Signatures are randomised, so
// signing the same payload twice yields different bytes that both verify.
type Signature []byte

func sign(sk *schnorrkel.SecretKey, payload []byte) (Signature, error) {
	sig, err := sk.Sign(schnorrkel.NewSigningContext(signingContext, payload))
	if err != nil {
		return nil, err
	}
	enc := sig.Encode()
	return Signature(enc[:]), nil
}

// Verify checks sig against payload for pub.
func Verify(pub PublicKey, payload []byte, sig Signature) bool {
	if len(pub) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	var rawPub [PublicKeySize]byte
	copy(rawPub[:], pub)
	var pk schnorrkel.PublicKey
	if err := pk.Decode(rawPub); err != nil {
		return false
	}

	var rawSig [SignatureSize]byte
	copy(rawSig[:], sig)
	var s schnorrkel.Signature
	if err := s.Decode(rawSig); err != nil {
		return false
	}
	ok, err := pk.Verify(&s, schnorrkel.NewSigningContext(signingContext, payload))
	return err == nil && ok
}
