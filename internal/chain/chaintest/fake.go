// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
)

// Method names used by Fail, FailTimes and Calls.
const (
	Connect      = "connect"
	Native       = "native"
	Asset        = "asset"
	Staked       = "staked"
	Submit       = "submit"
	Status       = "status"
	KycApproval  = "kyc_approval"
	RecentEvents = "events"
)

// Fake is a concurrency-safe chain.Client backed by maps.
type Fake struct {
	mu sync.Mutex

	native    map[string]amount.Amount
	assets    map[string]amount.Amount
	staked    map[string]amount.Amount
	approvals map[string]*chain.ApprovalRecord
	events    map[string][]chain.RawEvent
	statuses  map[string]chain.TxStatus
	byNonce   map[string]chain.TxRef

	failures  map[string]error
	failTimes map[string]int
	dropAcks  int
	calls     map[string]int
	submitted []chain.SignedOperation
	nextHash  int
}

// New returns an empty fake chain.
func New() *Fake {
	return &Fake{
		native:    make(map[string]amount.Amount),
		assets:    make(map[string]amount.Amount),
		staked:    make(map[string]amount.Amount),
		approvals: make(map[string]*chain.ApprovalRecord),
		events:    make(map[string][]chain.RawEvent),
		statuses:  make(map[string]chain.TxStatus),
		byNonce:   make(map[string]chain.TxRef),
		failures:  make(map[string]error),
		failTimes: make(map[string]int),
		calls:     make(map[string]int),
	}
}

// SetBalances seeds the three ledgers for address.
func (f *Fake) SetBalances(address string, native, governance, staked uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native[address] = amount.FromUint64(native)
	f.assets[address] = amount.FromUint64(governance)
	f.staked[address] = amount.FromUint64(staked)
}

// Fail makes every call to method return err until cleared with a nil err.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// FailTimes makes the next n calls to method return chain.ErrUnavailable.
func (f *Fake) FailTimes(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTimes[method] = n
}

// DropAcks makes the next n submissions that pass verification report
// chain.ErrUnavailable, as when the node's reply is lost after the operation
// was included.
func (f *Fake) DropAcks(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropAcks = n
}

// Calls reports how many times method was called; an empty method counts all.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if method != "" {
		return f.calls[method]
	}
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// ResetCalls zeroes the call counters.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// Submitted returns every accepted operation in order.
func (f *Fake) Submitted() []chain.SignedOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.SignedOperation(nil), f.submitted...)
}

// Approve records a KYC approval for address and hash.
func (f *Fake) Approve(address, dataHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals[address] = &chain.ApprovalRecord{
		Address:     address,
		DataHash:    dataHash,
		BlockHash:   fmt.Sprintf("0xb%04d", len(f.approvals)+1),
		BlockNumber: uint64(100 + len(f.approvals)),
		ApprovedAt:  time.Now().UTC(),
	}
}

// AddEvent appends a transfer event visible to both parties.
func (f *Fake) AddEvent(ev chain.RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.From] = append(f.events[ev.From], ev)
	if ev.To != ev.From {
		f.events[ev.To] = append(f.events[ev.To], ev)
	}
}

// Settle moves a submitted extrinsic to a terminal state.
func (f *Fake) Settle(hash string, ok bool, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := chain.TxStatus{State: chain.TxFinalized, BlockHash: "0xf" + hash, BlockNumber: 500}
	if !ok {
		st = chain.TxStatus{State: chain.TxFailed, Reason: reason}
	}
	f.statuses[hash] = st
}

func (f *Fake) enter(method string) error {
	f.calls[method]++
	if n := f.failTimes[method]; n > 0 {
		f.failTimes[method] = n - 1
		return fmt.Errorf("fake %s: %w", method, chain.ErrUnavailable)
	}
	return f.failures[method]
}

func (f *Fake) Connect(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(Connect); err != nil {
		return false, err
	}
	return true, nil
}

func (f *Fake) NativeBalance(_ context.Context, address string) (amount.Amount, error) {
	return f.balance(Native, f.native, address)
}

func (f *Fake) AssetBalance(_ context.Context, assetID uint32, address string) (amount.Amount, error) {
	if assetID != chain.GovernanceAssetID {
		return amount.Zero(), fmt.Errorf("unknown asset %d: %w", assetID, chain.ErrRejected)
	}
	return f.balance(Asset, f.assets, address)
}

func (f *Fake) StakedAmount(_ context.Context, address string) (amount.Amount, error) {
	return f.balance(Staked, f.staked, address)
}

func (f *Fake) balance(method string, ledger map[string]amount.Amount, address string) (amount.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(method); err != nil {
		return amount.Zero(), err
	}
	v, ok := ledger[address]
	if !ok {
		return amount.Zero(), nil
	}
	return v, nil
}

// Submit verifies the signature and deduplicates by nonce.
func (f *Fake) Submit(_ context.Context, op chain.SignedOperation) (chain.TxRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(Submit); err != nil {
		return chain.TxRef{}, err
	}
	ref, ok := f.byNonce[op.Nonce]
	if !ok {
		payload := chain.SigningPayload(op.Operation, op.Signer, op.Nonce)
		if !keys.Verify(op.PublicKey, payload, op.Signature) {
			return chain.TxRef{}, fmt.Errorf("bad signature: %w", chain.ErrRejected)
		}
		f.nextHash++
		ref = chain.TxRef{Hash: fmt.Sprintf("0x%064x", f.nextHash)}
		f.byNonce[op.Nonce] = ref
		f.statuses[ref.Hash] = chain.TxStatus{State: chain.TxPending}
		f.submitted = append(f.submitted, op)
	}
	if f.dropAcks > 0 {
		f.dropAcks--
		return chain.TxRef{}, fmt.Errorf("fake submit reply lost: %w", chain.ErrUnavailable)
	}
	return ref, nil
}

func (f *Fake) TxStatus(_ context.Context, ref chain.TxRef) (chain.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(Status); err != nil {
		return chain.TxStatus{}, err
	}
	st, ok := f.statuses[ref.Hash]
	if !ok {
		return chain.TxStatus{}, errors.New("unknown extrinsic")
	}
	return st, nil
}

func (f *Fake) KycApproval(_ context.Context, address string) (*chain.ApprovalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(KycApproval); err != nil {
		return nil, err
	}
	rec, ok := f.approvals[address]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *Fake) RecentEvents(_ context.Context, address string) ([]chain.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(RecentEvents); err != nil {
		return nil, err
	}
	return append([]chain.RawEvent(nil), f.events[address]...), nil
}

var _ chain.Client = (*Fake)(nil)
