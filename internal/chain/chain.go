// Package chain is the narrow boundary to the remote Pezkuwi node.
package chain

import (
	"context"
	"time"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

// GovernanceAssetID is the asset id of PEZ on the assets pallet.
const GovernanceAssetID uint32 = 1

var (
	// ErrUnavailable is any failure to reach the node. Reads may be retried once.
	ErrUnavailable = apperr.Connectivity("chain_unavailable", "chain node unavailable")
	// ErrRejected is a well-formed request the node refused (bad signature,
	// insufficient funds on chain, unknown method).
	ErrRejected = apperr.Conflict("chain_rejected", "chain rejected request")
	// ErrBadResponse is a reply that could not be decoded.
	ErrBadResponse = apperr.Internal("chain_bad_response", "malformed chain response")
)

// Client is everything the wallet and KYC services need from the node.
type Client interface {
	Connect(ctx context.Context) (bool, error)
	NativeBalance(ctx context.Context, address string) (amount.Amount, error)
	AssetBalance(ctx context.Context, assetID uint32, address string) (amount.Amount, error)
	StakedAmount(ctx context.Context, address string) (amount.Amount, error)
	Submit(ctx context.Context, op SignedOperation) (TxRef, error)
	TxStatus(ctx context.Context, ref TxRef) (TxStatus, error)
	KycApproval(ctx context.Context, address string) (*ApprovalRecord, error)
	RecentEvents(ctx context.Context, address string) ([]RawEvent, error)
}

// TxRef identifies a submitted extrinsic.
type TxRef struct {
	Hash string `json:"hash"`
}

// TxState is the node's view of a submitted extrinsic.
type TxState string

const (
	TxPending   TxState = "pending"
	TxInBlock   TxState = "in_block"
	TxFinalized TxState = "finalized"
	TxFailed    TxState = "failed"
)

// Terminal reports whether no further transitions will be observed.
func (s TxState) Terminal() bool { return s == TxFinalized || s == TxFailed }

// TxStatus is returned by Client.TxStatus.
type TxStatus struct {
	State       TxState `json:"state"`
	BlockHash   string  `json:"blockHash,omitempty"`
	BlockNumber uint64  `json:"blockNumber,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// ApprovalRecord is the on-chain attestation that a KYC commitment was accepted.
type ApprovalRecord struct {
	Address     string    `json:"address"`
	DataHash    string    `json:"dataHash"`
	BlockHash   string    `json:"blockHash"`
	BlockNumber uint64    `json:"blockNumber"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

// RawEvent is a transfer touching an account, as reported by the node.
type RawEvent struct {
	ID          string        `json:"id"`
	AssetID     *uint32       `json:"assetId,omitempty"` // nil for the native token
	From        string        `json:"from"`
	To          string        `json:"to"`
	Amount      amount.Amount `json:"amount"`
	TxHash      string        `json:"txHash"`
	BlockHash   string        `json:"blockHash"`
	BlockNumber uint64        `json:"blockNumber"`
	Timestamp   time.Time     `json:"timestamp"`
}
