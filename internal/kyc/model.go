// Package kyc turns a privately held personal-data form into an on-chain
// hash commitment and, once the chain approves it, a local citizen credential.
package kyc

import (
	"time"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

var (
	// ErrIncompleteForm lists required fields that are missing.
	ErrIncompleteForm = apperr.Validation("incomplete_form", "kyc form is incomplete")
	// ErrInvalidForm covers present but malformed fields.
	ErrInvalidForm = apperr.Validation("invalid_form", "kyc form is invalid")
	// ErrAlreadyApproved rejects a submission while a credential is held.
	ErrAlreadyApproved = apperr.Conflict("kyc_already_approved", "kyc already approved")
	// ErrNotSubmitted is returned when polling before any commitment exists.
	ErrNotSubmitted = apperr.Conflict("kyc_not_submitted", "kyc not submitted")
	// ErrNoCredential is returned when asking for a credential before approval.
	ErrNoCredential = apperr.Conflict("kyc_no_credential", "no citizen credential")
	// ErrSubmissionFailed wraps a failed commitment submission; the cause is kept.
	ErrSubmissionFailed = apperr.Conflict("kyc_submission_failed", "kyc submission failed")
	// ErrCorruptedState means persisted KYC records cannot be decoded.
	ErrCorruptedState = apperr.Integrity("kyc_state_corrupted", "stored kyc state is unreadable")
)

// Region is the applicant's region of origin or residence.
type Region string

const (
	RegionBasur         Region = "basur"
	RegionBakur         Region = "bakur"
	RegionRojava        Region = "rojava"
	RegionRojhelat      Region = "rojhelat"
	RegionKurdistanASor Region = "kurdistan_a_sor"
	RegionDiaspora      Region = "diaspora"
)

// Valid reports whether r is one of the known regions.
func (r Region) Valid() bool {
	switch r {
	case RegionBasur, RegionBakur, RegionRojava, RegionRojhelat, RegionKurdistanASor, RegionDiaspora:
		return true
	}
	return false
}

// MaritalStatus of the applicant.
type MaritalStatus string

const (
	Single  MaritalStatus = "single"
	Married MaritalStatus = "married"
)

// Child is one entry of the optional children list; Order is 1 for the first child.
type Child struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Form is the raw personal data. It is stored only in the SecretStore and
// never leaves the device.
type Form struct {
	FullName             string        `json:"fullName"`
	FatherName           string        `json:"fatherName"`
	GrandfatherName      string        `json:"grandfatherName,omitempty"`
	GreatGrandfatherName string        `json:"greatGrandfatherName,omitempty"`
	MotherName           string        `json:"motherName"`
	MaritalStatus        MaritalStatus `json:"maritalStatus"`
	SpouseName           string        `json:"spouseName,omitempty"`
	NumberOfChildren     *int          `json:"numberOfChildren,omitempty"`
	Children             []Child       `json:"children,omitempty"`
	Region               Region        `json:"region"`
	Photo                string        `json:"photo,omitempty"`
}

// Commitment is the public record of one submission.
type Commitment struct {
	Account     string    `json:"account"`
	DataHash    string    `json:"dataHash"`
	SubmittedAt time.Time `json:"submittedAt"`
	ChainRef    string    `json:"chainRef"`
}

// State of the attestation flow.
type State string

const (
	NotStarted State = "not_started"
	Submitted  State = "submitted"
	Approved   State = "approved"
)

// Status is the persisted source of truth for the flow.
type Status struct {
	State      State       `json:"state"`
	Commitment *Commitment `json:"commitment,omitempty"`
	Credential *Credential `json:"credential,omitempty"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Credential is minted once, when the chain approves the current commitment.
type Credential struct {
	CitizenID  string    `json:"citizenId"`
	FullName   string    `json:"fullName"`
	Region     Region    `json:"region"`
	Photo      string    `json:"photo,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
	DataHash   string    `json:"dataHash"`
	QRPayload  string    `json:"qrPayload"`
}

// QRPayload is the offline-verifiable content of a credential QR code.
type QRPayload struct {
	CitizenID string `json:"citizenId"`
	Name      string `json:"name"`
	Region    Region `json:"region"`
	Hash      string `json:"hash"`
}

// PollResult is either Approved with a credential or still pending.
type PollResult struct {
	Approved   bool        `json:"approved"`
	Credential *Credential `json:"credential,omitempty"`
}

// StillPending reports whether no approval has been observed yet.
func (r PollResult) StillPending() bool { return !r.Approved }
