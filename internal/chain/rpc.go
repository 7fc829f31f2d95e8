package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

// JSON-RPC methods exposed by the node's wallet gateway.
const (
	methodHealth       = "system_health"
	methodNative       = "wallet_nativeBalance"
	methodAsset        = "wallet_assetBalance"
	methodStaked       = "wallet_stakedAmount"
	methodSubmit       = "wallet_submitOperation"
	methodStatus       = "wallet_operationStatus"
	methodKycApproval  = "identityKyc_approval"
	methodAccountEvent = "wallet_accountEvents"
)

type caller interface {
	CallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error
}

// RPCClient implements Client over JSON-RPC 2.0.
type RPCClient struct {
	rpcClient caller
	rpcURL    string
}

// NewRPCClient creates a client for the node at rpcURL.
func NewRPCClient(rpcURL string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RPCClient{
		rpcClient: jsonrpc.NewClientWithOpts(rpcURL, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: timeout},
		}),
		rpcURL: rpcURL,
	}
}

type healthResult struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// Connect checks that the node answers and is not isolated.
func (c *RPCClient) Connect(ctx context.Context) (bool, error) {
	var h healthResult
	if err := c.call(ctx, &h, methodHealth); err != nil {
		return false, err
	}
	return h.Peers > 0 || !h.ShouldHavePeers, nil
}

// NativeBalance returns the free HEZ balance.
func (c *RPCClient) NativeBalance(ctx context.Context, address string) (amount.Amount, error) {
	return c.amount(ctx, methodNative, address)
}

// AssetBalance returns the balance of assetID.
func (c *RPCClient) AssetBalance(ctx context.Context, assetID uint32, address string) (amount.Amount, error) {
	return c.amount(ctx, methodAsset, assetID, address)
}

// StakedAmount returns the active stake on the staking ledger.
func (c *RPCClient) StakedAmount(ctx context.Context, address string) (amount.Amount, error) {
	return c.amount(ctx, methodStaked, address)
}

type wireOperation struct {
	Kind      OperationKind `json:"kind"`
	Signer    string        `json:"signer"`
	PublicKey string        `json:"publicKey"`
	Nonce     string        `json:"nonce"`
	Signature string        `json:"signature"`
	To        string        `json:"to,omitempty"`
	Amount    string        `json:"amount,omitempty"`
	AssetID   *uint32       `json:"assetId,omitempty"`
	DataHash  string        `json:"dataHash,omitempty"`
}

// Submit sends a signed operation and returns its extrinsic hash.
func (c *RPCClient) Submit(ctx context.Context, op SignedOperation) (TxRef, error) {
	w := wireOperation{
		Kind:      op.Operation.Kind(),
		Signer:    op.Signer,
		PublicKey: "0x" + hex.EncodeToString(op.PublicKey),
		Nonce:     op.Nonce,
		Signature: "0x" + hex.EncodeToString(op.Signature),
	}
	switch o := op.Operation.(type) {
	case NativeTransfer:
		w.To, w.Amount = o.To, o.Amount.String()
	case AssetTransfer:
		id := o.AssetID
		w.To, w.Amount, w.AssetID = o.To, o.Amount.String(), &id
	case KycCommit:
		w.DataHash = o.DataHash
	default:
		return TxRef{}, fmt.Errorf("unsupported operation %T", op.Operation)
	}

	var ref TxRef
	if err := c.call(ctx, &ref, methodSubmit, w); err != nil {
		return TxRef{}, err
	}
	if ref.Hash == "" {
		return TxRef{}, apperr.Wrapf(ErrBadResponse, nil, "%s returned no hash", methodSubmit)
	}
	return ref, nil
}

// TxStatus reports the inclusion state of ref.
func (c *RPCClient) TxStatus(ctx context.Context, ref TxRef) (TxStatus, error) {
	var st TxStatus
	if err := c.call(ctx, &st, methodStatus, ref.Hash); err != nil {
		return TxStatus{}, err
	}
	switch st.State {
	case TxPending, TxInBlock, TxFinalized, TxFailed:
		return st, nil
	default:
		return TxStatus{}, apperr.Wrapf(ErrBadResponse, nil, "unknown state %q", st.State)
	}
}

// KycApproval returns the approval record for address, or nil when none exists.
func (c *RPCClient) KycApproval(ctx context.Context, address string) (*ApprovalRecord, error) {
	var rec *ApprovalRecord
	if err := c.call(ctx, &rec, methodKycApproval, address); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentEvents returns recent transfers that touch address.
func (c *RPCClient) RecentEvents(ctx context.Context, address string) ([]RawEvent, error) {
	var events []RawEvent
	if err := c.call(ctx, &events, methodAccountEvent, address); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *RPCClient) amount(ctx context.Context, method string, params ...interface{}) (amount.Amount, error) {
	var s string
	if err := c.call(ctx, &s, method, params...); err != nil {
		return amount.Zero(), err
	}
	v, err := amount.Parse(s)
	if err != nil {
		return amount.Zero(), apperr.Wrap(ErrBadResponse, err)
	}
	return v, nil
}

func (c *RPCClient) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	var raw json.RawMessage
	if err := c.rpcClient.CallForInto(ctx, &raw, method, params); err != nil {
		return classify(ctx, method, err)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(ErrBadResponse, fmt.Errorf("failed to decode %s result: %w", method, err))
	}
	return nil
}

func classify(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", method, ctxErr)
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return apperr.Wrapf(ErrRejected, fmt.Errorf("rpc error %d", rpcErr.Code), "%s: %s", method, strings.TrimSpace(rpcErr.Message))
	}
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code >= 400 && httpErr.Code < 500 && httpErr.Code != http.StatusTooManyRequests {
		return apperr.Wrapf(ErrRejected, err, "%s: http %d", method, httpErr.Code)
	}
	return apperr.Wrapf(ErrUnavailable, err, "failed to call %s", method)
}
