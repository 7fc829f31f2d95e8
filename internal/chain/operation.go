package chain

import (
	"bytes"
	"encoding/binary"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
)

// OperationKind names a supported call.
type OperationKind string

const (
	KindNativeTransfer OperationKind = "native_transfer"
	KindAssetTransfer  OperationKind = "asset_transfer"
	KindKycCommit      OperationKind = "kyc_commit"
)

const signingDomain = "pezkuwi/operation/v1"

// Operation is the closed set of calls the wallet can submit.
type Operation interface {
	Kind() OperationKind
	encode(buf *bytes.Buffer)
}

// NativeTransfer moves HEZ (balances.transfer).
type NativeTransfer struct {
	To     string
	Amount amount.Amount
}

// AssetTransfer moves an assets-pallet token (assets.transfer).
type AssetTransfer struct {
	AssetID uint32
	To      string
	Amount  amount.Amount
}

// KycCommit records a KYC commitment hash for the signer.
type KycCommit struct {
	DataHash string
}

func (NativeTransfer) Kind() OperationKind { return KindNativeTransfer }
func (AssetTransfer) Kind() OperationKind  { return KindAssetTransfer }
func (KycCommit) Kind() OperationKind      { return KindKycCommit }

func (o NativeTransfer) encode(buf *bytes.Buffer) {
	writeString(buf, o.To)
	writeString(buf, o.Amount.String())
}

func (o AssetTransfer) encode(buf *bytes.Buffer) {
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], o.AssetID)
	buf.Write(id[:])
	writeString(buf, o.To)
	writeString(buf, o.Amount.String())
}

func (o KycCommit) encode(buf *bytes.Buffer) {
	writeString(buf, o.DataHash)
}

// SignedOperation is an operation plus everything the node needs to check
// who authorised it. Nonce makes a resubmission of the same signed operation
// recognisable as a duplicate.
type SignedOperation struct {
	Operation Operation
	Signer    string
	PublicKey []byte
	Nonce     string
	Signature []byte
}

// SigningPayload is the exact byte string that gets signed for op.
func SigningPayload(op Operation, signer, nonce string) []byte {
	var buf bytes.Buffer
	writeString(&buf, signingDomain)
	writeString(&buf, string(op.Kind()))
	writeString(&buf, signer)
	writeString(&buf, nonce)
	op.encode(&buf)
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	buf.WriteString(s)
}
