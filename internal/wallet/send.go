package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
	"github.com/pezkuwi/pezkuwi_wallet/internal/notification"
)

// ErrInvalidToken is returned for a token other than HEZ or PEZ.
var ErrInvalidToken = apperr.Validation("invalid_token", "unsupported token")

const interruptedReason = "interrupted before the submission was acknowledged"

// errSignerChanged means the wallet that signed a transfer is no longer the
// active one, so its operation cannot be signed again.
var errSignerChanged = errors.New("signing wallet is not active")

// Send validates, signs, journals and submits a transfer from the active
// account. The returned transaction is pending; a tracker moves it to
// confirmed or failed. Once the signed operation is handed to the chain
// client, cancelling ctx no longer affects it.
func (s *Service) Send(ctx context.Context, in SendInput) (ledger.Transaction, error) {
	if !in.Token.Valid() {
		return ledger.Transaction{}, apperr.Wrapf(ErrInvalidToken, nil, "%q", in.Token)
	}
	if err := keys.ValidateAddress(in.To, s.cfg.SS58Prefix); err != nil {
		return ledger.Transaction{}, apperr.Wrap(ErrInvalidRecipient, err)
	}
	if in.Amount.IsNil() || in.Amount.IsZero() {
		return ledger.Transaction{}, apperr.Wrapf(amount.ErrInvalidAmount, nil, "amount must be positive")
	}
	key, ok := s.keys.Active()
	if !ok {
		return ledger.Transaction{}, keys.ErrNoWalletFound
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	balance, err := s.spendable(ctx, key.Address, in.Token)
	if err != nil {
		return ledger.Transaction{}, err
	}
	reserved, err := s.pendingOutgoing(ctx, key.Address, in.Token)
	if err != nil {
		return ledger.Transaction{}, err
	}
	available := amount.Zero()
	if balance.GT(reserved) {
		available = balance.Sub(reserved)
	}
	if in.Amount.GT(available) {
		return ledger.Transaction{}, apperr.Wrapf(ErrInsufficientBalance, nil, "%s %s available",
			amount.Format(available, s.cfg.Decimals), in.Token.Symbol())
	}

	op := s.operation(in)
	nonce := newNonce()
	signer, sig, err := s.keys.SignFor(func(k keys.WalletKey) []byte {
		return chain.SigningPayload(op, k.Address, nonce)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	if signer.Address != key.Address {
		return ledger.Transaction{}, apperr.Wrapf(keys.ErrNoWalletFound, nil, "active wallet changed during send")
	}

	tx, err := s.ledger.Record(ctx, ledger.Transaction{
		Account:      signer.Address,
		Direction:    ledger.DirectionSend,
		Token:        in.Token,
		Amount:       in.Amount,
		Counterparty: in.To,
		Nonce:        nonce,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	// From here on the operation may reach the chain, so nothing below
	// listens to the caller's cancellation.
	detached := context.WithoutCancel(ctx)
	submitCtx, cancel := context.WithTimeout(detached, s.cfg.SubmitTimeout)
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
	cancel()
	s.metrics.ObserveChainLatency("submit", time.Since(start))
	switch {
	case errors.Is(err, chain.ErrRejected):
		s.metrics.IncrementTransfer(string(in.Token), "rejected")
		s.logger.Warn("transfer submission rejected", "tx_id", tx.ID, "token", in.Token, "error", err)
		if failed, ferr := s.ledger.Finalize(detached, tx.ID, ledger.StatusFailed, "", err.Error()); ferr == nil {
			tx = failed
		} else {
			s.logger.Error("failed to record submission failure", "tx_id", tx.ID, "error", ferr)
		}
		return tx, apperr.Wrap(ErrSubmissionFailed, err)
	case err != nil:
		// The node may have included the operation without our seeing the
		// reply. The entry stays pending, holding its funds, until a
		// resubmission under the same nonce settles the question.
		s.metrics.IncrementTransfer(string(in.Token), "unacknowledged")
		s.logger.Warn("transfer submission unacknowledged", "tx_id", tx.ID, "token", in.Token, "error", err)
		s.startTracker(tx, chain.TxRef{})
		return tx, apperr.Wrap(ErrSubmissionFailed, err)
	}

	if marked, err := s.ledger.MarkSubmitted(detached, tx.ID, ref.Hash); err == nil {
		tx = marked
	} else {
		s.logger.Error("failed to record extrinsic hash", "tx_id", tx.ID, "hash", ref.Hash, "error", err)
		tx.ChainRef = ref.Hash
	}
	s.metrics.IncrementTransfer(string(in.Token), "submitted")
	s.logger.Info("transfer submitted", "tx_id", tx.ID, "hash", ref.Hash, "token", in.Token)

	s.startTracker(tx, ref)
	return tx, nil
}

func (s *Service) operation(in SendInput) chain.Operation {
	if in.Token == ledger.TokenGovernance {
		return chain.AssetTransfer{AssetID: s.cfg.GovernanceAssetID, To: in.To, Amount: in.Amount}
	}
	return chain.NativeTransfer{To: in.To, Amount: in.Amount}
}

// ResumeTracking re-attaches trackers to transfers left pending by a previous
// run. Entries that never recorded an extrinsic hash are reconciled by
// resubmitting under their nonce; one without a nonce cannot be and is
// failed with an explicit reason.
func (s *Service) ResumeTracking(ctx context.Context) (int, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	pending, err := s.ledger.Pending(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, tx := range pending {
		if tx.Direction != ledger.DirectionSend {
			continue
		}
		if tx.ChainRef == "" && tx.Nonce == "" {
			if _, err := s.ledger.Finalize(ctx, tx.ID, ledger.StatusFailed, "", interruptedReason); err != nil && !errors.Is(err, ledger.ErrTerminal) {
				return resumed, err
			}
			s.logger.Warn("transfer abandoned before acknowledgement", "tx_id", tx.ID)
			continue
		}
		s.startTracker(tx, chain.TxRef{Hash: tx.ChainRef})
		resumed++
	}
	return resumed, nil
}

func (s *Service) startTracker(tx ledger.Transaction, ref chain.TxRef) {
	s.mu.Lock()
	if _, running := s.tracked[tx.ID]; running {
		s.mu.Unlock()
		return
	}
	s.tracked[tx.ID] = struct{}{}
	s.trackers.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.trackers.Done()
		defer func() {
			s.mu.Lock()
			delete(s.tracked, tx.ID)
			s.mu.Unlock()
		}()
		s.track(tx, ref)
	}()
}

// track polls until the extrinsic is terminal or the service is closed. An
// empty ref is first reconciled.
func (s *Service) track(tx ledger.Transaction, ref chain.TxRef) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	if ref.Hash == "" {
		var ok bool
		if ref, ok = s.reconcile(tx, ticker); !ok {
			return
		}
	}

	for {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
		st, err := s.chain.TxStatus(ctx, ref)
		cancel()
		switch {
		case err != nil:
			s.logger.Debug("transfer status unavailable", "tx_id", tx.ID, "hash", ref.Hash, "error", err)
		case st.State.Terminal():
			s.settle(tx, st)
			return
		}

		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// reconcile resubmits a transfer whose submission was never acknowledged,
// signed again under its original nonce. The chain deduplicates by nonce, so
// an earlier delivery comes back as its original ref instead of a second
// transfer. Only a definitive rejection fails the entry.
func (s *Service) reconcile(tx ledger.Transaction, ticker *time.Ticker) (chain.TxRef, bool) {
	for {
		select {
		case <-s.stop:
			return chain.TxRef{}, false
		case <-ticker.C:
		}

		ref, err := s.resubmit(tx)
		switch {
		case err == nil:
			if _, err := s.ledger.MarkSubmitted(context.Background(), tx.ID, ref.Hash); err != nil {
				s.logger.Error("failed to record extrinsic hash", "tx_id", tx.ID, "hash", ref.Hash, "error", err)
			}
			s.logger.Info("transfer submission reconciled", "tx_id", tx.ID, "hash", ref.Hash)
			return ref, true
		case errors.Is(err, chain.ErrRejected):
			s.settle(tx, chain.TxStatus{State: chain.TxFailed, Reason: err.Error()})
			return chain.TxRef{}, false
		default:
			s.logger.Debug("transfer still unacknowledged", "tx_id", tx.ID, "error", err)
		}
	}
}

func (s *Service) resubmit(tx ledger.Transaction) (chain.TxRef, error) {
	op := s.operation(SendInput{To: tx.Counterparty, Amount: tx.Amount, Token: tx.Token})
	signer, sig, err := s.keys.SignFor(func(k keys.WalletKey) []byte {
		return chain.SigningPayload(op, k.Address, tx.Nonce)
	})
	if err != nil {
		return chain.TxRef{}, err
	}
	if signer.Address != tx.Account {
		return chain.TxRef{}, errSignerChanged
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	defer cancel()
	return s.chain.Submit(ctx, chain.SignedOperation{
		Operation: op,
		Signer:    signer.Address,
		PublicKey: signer.PublicKey,
		Nonce:     tx.Nonce,
		Signature: sig,
	})
}

func (s *Service) settle(tx ledger.Transaction, st chain.TxStatus) {
	ctx := context.Background()
	status, kind := ledger.StatusConfirmed, notification.KindTransferConfirmed
	if st.State == chain.TxFailed {
		status, kind = ledger.StatusFailed, notification.KindTransferFailed
	}

	final, err := s.ledger.Finalize(ctx, tx.ID, status, st.BlockHash, st.Reason)
	if errors.Is(err, ledger.ErrTerminal) {
		return
	}
	if err != nil {
		s.logger.Error("failed to settle transfer", "tx_id", tx.ID, "error", err)
		return
	}

	if status == ledger.StatusConfirmed {
		// the chain balance moved; the next send must read it again
		s.mu.Lock()
		delete(s.snapshots[final.Account], final.Token)
		s.mu.Unlock()
	}
	s.metrics.IncrementTransfer(string(final.Token), string(status))
	s.logger.Info("transfer settled", "tx_id", final.ID, "status", status, "block", st.BlockHash)

	if s.notifier != nil {
		body := fmt.Sprintf("Sent %s %s to %s", amount.ToDisplay(final.Amount, s.cfg.Decimals), final.Token.Symbol(), final.Counterparty)
		if status == ledger.StatusFailed {
			body = fmt.Sprintf("Transfer of %s %s failed: %s", amount.ToDisplay(final.Amount, s.cfg.Decimals), final.Token.Symbol(), st.Reason)
		}
		_ = s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: final.Account, Body: body})
	}
}

func newNonce() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
