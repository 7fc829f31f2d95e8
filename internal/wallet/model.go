package wallet

import (
	"time"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
)

var (
	// ErrInsufficientBalance means the local pre-check found less than the
	// requested amount available. No chain call was made.
	ErrInsufficientBalance = apperr.Conflict("insufficient_balance", "insufficient balance")
	// ErrInvalidRecipient means the destination is not an account on this network.
	ErrInvalidRecipient = apperr.Validation("invalid_recipient", "invalid recipient address")
	// ErrSubmissionFailed wraps any failure after the transfer was signed.
	// The cause stays in the chain for errors.Is.
	ErrSubmissionFailed = apperr.Conflict("submission_failed", "transfer submission failed")
)

// Ledger names used in Balance.Degraded and metrics.
const (
	LedgerNative     = "native"
	LedgerGovernance = "governance"
	LedgerStaked     = "staked"
)

// Balance is the account's position on the three ledgers. Any ledger listed
// in Degraded could not be read and is reported as zero.
type Balance struct {
	Address    string        `json:"address"`
	Native     amount.Amount `json:"native"`
	Governance amount.Amount `json:"governance"`
	Staked     amount.Amount `json:"staked"`
	Degraded   []string      `json:"degraded,omitempty"`
	AsOf       time.Time     `json:"asOf"`
}

// IsDegraded reports whether any ledger fell back to zero.
func (b Balance) IsDegraded() bool { return len(b.Degraded) > 0 }

// DisplayBalance is Balance rendered for people.
type DisplayBalance struct {
	Native     string `json:"native"`
	Governance string `json:"governance"`
	Staked     string `json:"staked"`
}

// SendInput captures data required to move tokens.
type SendInput struct {
	To     string
	Amount amount.Amount
	Token  ledger.Token
}

// Config carries the network parameters the service needs.
type Config struct {
	SS58Prefix        uint16
	GovernanceAssetID uint32
	Decimals          uint8
	// PollInterval is the delay between finality checks of a dispatched transfer.
	PollInterval time.Duration
	// SubmitTimeout bounds a single submission attempt.
	SubmitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Decimals == 0 {
		c.Decimals = amount.NativeDecimals
	}
	if c.GovernanceAssetID == 0 {
		c.GovernanceAssetID = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 6 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	return c
}
