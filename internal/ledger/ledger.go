// Package ledger is the device-local journal of outgoing transfers.
package ledger

import (
	"context"
	"time"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

var (
	// ErrNotFound occurs when no journal entry has the requested id.
	ErrNotFound = apperr.Conflict("transaction_not_found", "transaction not found")

	// ErrTerminal indicates the entry already reached confirmed or failed and
	// can no longer change.
	ErrTerminal = apperr.Conflict("transaction_terminal", "transaction already settled")

	// ErrDuplicateTransaction indicates an entry with the same id already exists.
	ErrDuplicateTransaction = apperr.Conflict("duplicate_transaction", "duplicate transaction")
)

// Token is the asset a transaction moves.
type Token string

const (
	TokenNative     Token = "native"
	TokenGovernance Token = "governance"
)

// Valid reports whether t is a known token.
func (t Token) Valid() bool { return t == TokenNative || t == TokenGovernance }

// Symbol is the ticker shown to users.
func (t Token) Symbol() string {
	if t == TokenGovernance {
		return "PEZ"
	}
	return "HEZ"
}

// ParseToken accepts a token kind or its ticker, case-insensitively.
func ParseToken(s string) (Token, bool) {
	switch s {
	case "native", "HEZ", "hez":
		return TokenNative, true
	case "governance", "PEZ", "pez":
		return TokenGovernance, true
	}
	return "", false
}

// Direction is relative to the journal's account.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Status of a transaction. Confirmed and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusConfirmed || s == StatusFailed }

// Transaction is a single transfer as the wallet knows it.
type Transaction struct {
	ID            string        `json:"id"`
	Account       string        `json:"account"`
	Direction     Direction     `json:"direction"`
	Token         Token         `json:"token"`
	Amount        amount.Amount `json:"amount"`
	Counterparty  string        `json:"counterparty"`
	Nonce         string        `json:"nonce,omitempty"`
	SubmittedAt   time.Time     `json:"submittedAt"`
	ChainRef      string        `json:"chainRef,omitempty"`
	BlockRef      string        `json:"blockRef,omitempty"`
	Status        Status        `json:"status"`
	FailureReason string        `json:"failureReason,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Ledger defines the contract implemented by journal backends (e.g. Postgres).
type Ledger interface {
	// Record stores a new pending entry. ID, timestamps and status are
	// filled in when empty.
	Record(ctx context.Context, tx Transaction) (Transaction, error)
	// MarkSubmitted attaches the extrinsic hash to a pending entry.
	MarkSubmitted(ctx context.Context, id, chainRef string) (Transaction, error)
	// Finalize moves a pending entry to a terminal status exactly once.
	Finalize(ctx context.Context, id string, status Status, blockRef, reason string) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	// ListByAccount returns the newest entries first.
	ListByAccount(ctx context.Context, account string, limit int) ([]Transaction, error)
	// Pending returns every non-terminal entry, oldest first.
	Pending(ctx context.Context) ([]Transaction, error)
}

func prepare(tx Transaction, newID func() string, now time.Time) Transaction {
	if tx.ID == "" {
		tx.ID = newID()
	}
	if tx.SubmittedAt.IsZero() {
		tx.SubmittedAt = now
	}
	if tx.Direction == "" {
		tx.Direction = DirectionSend
	}
	if tx.Amount.IsNil() {
		tx.Amount = amount.Zero()
	}
	tx.Status = StatusPending
	tx.UpdatedAt = now
	return tx
}
