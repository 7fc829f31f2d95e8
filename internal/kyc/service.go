package kyc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/metrics"
	"github.com/pezkuwi/pezkuwi_wallet/internal/notification"
	"github.com/pezkuwi/pezkuwi_wallet/internal/qrimage"
	"github.com/pezkuwi/pezkuwi_wallet/internal/securestore"
)

// SecretStore keys owned by this package.
const (
	keyForms      = "kyc.forms"
	keyStatus     = "kyc.status"
	keyCredential = "kyc.credential"
)

const submitTimeout = 30 * time.Second

// Service runs the attestation state machine. The persisted Status is the
// source of truth; mu serialises every transition.
type Service struct {
	mu       sync.Mutex
	store    securestore.Storage
	keys     *keys.Manager
	chain    chain.Client
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds the KYC service. notifier and m may be nil.
func NewService(store securestore.Storage, km *keys.Manager, client chain.Client, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		keys:     km,
		chain:    client,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "kyc"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and commits form. Only the hash leaves the device; the
// raw form is kept in the SecretStore, keyed by its hash, once the chain has
// accepted the commitment. A pending commitment is replaced.
func (s *Service) Submit(ctx context.Context, form Form) (Commitment, error) {
	if err := Validate(form); err != nil {
		return Commitment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return Commitment{}, err
	}
	if st.State == Approved {
		return Commitment{}, ErrAlreadyApproved
	}

	dataHash := CanonicalHash(form)
	op := chain.KycCommit{DataHash: dataHash}
	nonce := newNonce()
	signer, sig, err := s.keys.SignFor(func(k keys.WalletKey) []byte {
		return chain.SigningPayload(op, k.Address, nonce)
	})
	if err != nil {
		return Commitment{}, err
	}

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()
	start := time.Now()
	ref, err := chain.RetryOnce(submitCtx, func(ctx context.Context) (chain.TxRef, error) {
		return s.chain.Submit(ctx, chain.SignedOperation{
			Operation: op,
			Signer:    signer.Address,
			PublicKey: signer.PublicKey,
			Nonce:     nonce,
			Signature: sig,
		})
	})
	s.metrics.ObserveChainLatency("kyc_submit", time.Since(start))
	if err != nil {
		s.logger.Warn("kyc commitment submission failed", "hash", dataHash, "error", err)
		return Commitment{}, apperr.Wrap(ErrSubmissionFailed, err)
	}

	commitment := Commitment{
		Account:     signer.Address,
		DataHash:    dataHash,
		SubmittedAt: s.now(),
		ChainRef:    ref.Hash,
	}
	// The new form is added next to the one the current status points at,
	// and the old one pruned only after the status moves.
	persist := context.WithoutCancel(ctx)
	forms, err := s.forms(persist)
	if err != nil {
		s.logger.Warn("discarding unreadable kyc form records", "error", err)
		forms = map[string]Form{}
	}
	forms[dataHash] = form
	if err := s.saveForms(persist, forms); err != nil {
		return Commitment{}, err
	}
	if err := s.save(persist, Status{State: Submitted, Commitment: &commitment, UpdatedAt: commitment.SubmittedAt}); err != nil {
		return Commitment{}, err
	}
	if len(forms) > 1 {
		if err := s.saveForms(persist, map[string]Form{dataHash: form}); err != nil {
			s.logger.Warn("pruning superseded kyc forms failed", "error", err)
		}
	}

	s.metrics.IncrementKycTransition(string(Submitted))
	s.logger.Info("kyc commitment submitted", "hash", dataHash, "tx", ref.Hash, "replaced", st.State == Submitted)
	s.notify(ctx, notification.KindKycSubmitted, signer.Address, "Identity commitment submitted for approval")
	return commitment, nil
}

// PollApproval asks the chain whether the current commitment was approved.
// An approval for any other hash is stale and ignored. The first matching
// approval mints the credential; later polls return the same one.
func (s *Service) PollApproval(ctx context.Context) (PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return PollResult{}, err
	}
	switch st.State {
	case NotStarted:
		return PollResult{}, ErrNotSubmitted
	case Approved:
		return PollResult{Approved: true, Credential: st.Credential}, nil
	}

	commitment := st.Commitment
	rec, err := chain.RetryOnce(ctx, func(ctx context.Context) (*chain.ApprovalRecord, error) {
		return s.chain.KycApproval(ctx, commitment.Account)
	})
	if err != nil {
		return PollResult{}, err
	}
	if rec == nil {
		return PollResult{}, nil
	}
	if !strings.EqualFold(rec.DataHash, commitment.DataHash) {
		s.logger.Info("ignoring approval for a superseded commitment", "approved_hash", rec.DataHash, "current_hash", commitment.DataHash)
		return PollResult{}, nil
	}

	form, err := s.storedForm(ctx, commitment.DataHash)
	if err != nil {
		return PollResult{}, err
	}
	cred, err := s.mint(form, commitment.DataHash, rec.ApprovedAt)
	if err != nil {
		return PollResult{}, err
	}

	// credential before status: Approved must never lack a credential
	persist := context.WithoutCancel(ctx)
	raw, err := json.Marshal(cred)
	if err != nil {
		return PollResult{}, err
	}
	if err := s.store.Set(persist, keyCredential, raw); err != nil {
		return PollResult{}, err
	}
	if err := s.save(persist, Status{State: Approved, Commitment: commitment, Credential: &cred, UpdatedAt: s.now()}); err != nil {
		return PollResult{}, err
	}

	s.metrics.IncrementKycTransition(string(Approved))
	s.logger.Info("kyc approved", "citizen_id", cred.CitizenID, "block", rec.BlockNumber)
	s.notify(ctx, notification.KindKycApproved, commitment.Account, "Citizen credential issued: "+cred.CitizenID)
	return PollResult{Approved: true, Credential: &cred}, nil
}

// Current returns the persisted status without touching the chain.
func (s *Service) Current(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// HasGovernanceAccess is true once a credential has been issued.
func (s *Service) HasGovernanceAccess(ctx context.Context) (bool, error) {
	st, err := s.Current(ctx)
	if err != nil {
		return false, err
	}
	return st.State == Approved, nil
}

// StoredForm returns the raw form behind the current commitment.
func (s *Service) StoredForm(ctx context.Context) (Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx)
	if err != nil {
		return Form{}, err
	}
	if st.Commitment == nil {
		return Form{}, ErrNotSubmitted
	}
	return s.storedForm(ctx, st.Commitment.DataHash)
}

// Reset wipes the forms, the status and the credential. It is the only way
// out of Approved.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range []string{keyStatus, keyCredential, keyForms} {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	s.metrics.IncrementKycTransition(string(NotStarted))
	s.logger.Info("kyc data cleared")
	return nil
}

// CredentialQR renders the credential's QR payload as a PNG.
func (s *Service) CredentialQR(ctx context.Context, size int) ([]byte, error) {
	st, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if st.State != Approved || st.Credential == nil {
		return nil, ErrNoCredential
	}
	return qrimage.Encode(st.Credential.QRPayload, size)
}

// VerifyDisclosure checks an out-of-band disclosed form against the hash in
// a credential QR payload.
func VerifyDisclosure(qrPayload string, form Form) (bool, error) {
	var p QRPayload
	if err := json.Unmarshal([]byte(qrPayload), &p); err != nil {
		return false, apperr.Wrap(ErrInvalidForm, err)
	}
	if !IsCommitmentHash(p.Hash) {
		return false, apperr.Wrapf(ErrInvalidForm, nil, "qr payload hash %q", p.Hash)
	}
	return strings.EqualFold(p.Hash, CanonicalHash(form)), nil
}

func (s *Service) mint(form Form, dataHash string, approvedAt time.Time) (Credential, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Credential{}, err
	}
	if approvedAt.IsZero() {
		approvedAt = s.now()
	}
	cred := Credential{
		CitizenID:  "KRD-" + strings.ToUpper(id.String()),
		FullName:   strings.TrimSpace(form.FullName),
		Region:     form.Region,
		Photo:      form.Photo,
		ApprovedAt: approvedAt.UTC(),
		DataHash:   dataHash,
	}
	payload, err := json.Marshal(QRPayload{CitizenID: cred.CitizenID, Name: cred.FullName, Region: cred.Region, Hash: dataHash})
	if err != nil {
		return Credential{}, err
	}
	cred.QRPayload = string(payload)
	return cred, nil
}

// load and save require mu.
func (s *Service) load(ctx context.Context) (Status, error) {
	raw, err := s.store.Get(ctx, keyStatus)
	switch {
	case errors.Is(err, securestore.ErrNotFound):
		return Status{State: NotStarted}, nil
	case errors.Is(err, securestore.ErrCorrupted):
		return Status{}, apperr.Wrap(ErrCorruptedState, err)
	case err != nil:
		return Status{}, err
	}

	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, apperr.Wrap(ErrCorruptedState, err)
	}
	switch {
	case st.State == Submitted && st.Commitment == nil,
		st.State == Approved && (st.Commitment == nil || st.Credential == nil):
		return Status{}, apperr.Wrapf(ErrCorruptedState, nil, "%s status without its record", st.State)
	case st.State != NotStarted && st.State != Submitted && st.State != Approved:
		return Status{}, apperr.Wrapf(ErrCorruptedState, nil, "unknown state %q", st.State)
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, st Status) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, keyStatus, raw)
}

// storedForm returns the form committed as dataHash, refusing one that no
// longer hashes to it.
func (s *Service) storedForm(ctx context.Context, dataHash string) (Form, error) {
	forms, err := s.forms(ctx)
	if err != nil {
		return Form{}, err
	}
	f, ok := forms[dataHash]
	if !ok {
		return Form{}, apperr.Wrapf(ErrCorruptedState, nil, "no stored form for commitment %s", dataHash)
	}
	if got := CanonicalHash(f); !strings.EqualFold(got, dataHash) {
		return Form{}, apperr.Wrapf(ErrCorruptedState, nil, "stored form hashes to %s, commitment is %s", got, dataHash)
	}
	return f, nil
}

// forms reads the hash-keyed form records; a missing record is empty.
func (s *Service) forms(ctx context.Context) (map[string]Form, error) {
	raw, err := s.store.Get(ctx, keyForms)
	switch {
	case errors.Is(err, securestore.ErrNotFound):
		return map[string]Form{}, nil
	case errors.Is(err, securestore.ErrCorrupted):
		return nil, apperr.Wrap(ErrCorruptedState, err)
	case err != nil:
		return nil, err
	}
	defer clear(raw)
	forms := map[string]Form{}
	if err := json.Unmarshal(raw, &forms); err != nil {
		return nil, apperr.Wrap(ErrCorruptedState, err)
	}
	return forms, nil
}

func (s *Service) saveForms(ctx context.Context, forms map[string]Form) error {
	raw, err := json.Marshal(forms)
	if err != nil {
		return err
	}
	defer clear(raw)
	return s.store.Set(ctx, keyForms, raw)
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(context.WithoutCancel(ctx), notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		s.logger.Warn("notification failed", "kind", kind, "error", err)
	}
}

func newNonce() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
