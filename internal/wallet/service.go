// Package wallet orchestrates the device wallet: identity lifecycle, balances,
// transfers and history.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
	"github.com/pezkuwi/pezkuwi_wallet/internal/metrics"
	"github.com/pezkuwi/pezkuwi_wallet/internal/notification"
)

// Service exposes wallet operations backed by the key manager, the chain and
// the local journal.
type Service struct {
	keys     *keys.Manager
	chain    chain.Client
	ledger   ledger.Ledger
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config

	// sendMu serialises Send so two transfers cannot both pass the
	// balance pre-check against the same snapshot.
	sendMu sync.Mutex

	mu        sync.Mutex
	snapshots map[string]map[ledger.Token]amount.Amount
	tracked   map[string]struct{}
	trackers  sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewService builds a wallet service instance. notifier and m may be nil.
func NewService(km *keys.Manager, client chain.Client, journal ledger.Ledger, notifier notification.Notifier, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		keys:      km,
		chain:     client,
		ledger:    journal,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With("component", "wallet"),
		cfg:       cfg.withDefaults(),
		snapshots: make(map[string]map[ledger.Token]amount.Amount),
		tracked:   make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
}

// CreateOrImportWallet establishes the device's single identity. An empty
// mnemonic creates a fresh wallet. It returns keys.ErrWalletExists rather than
// replace a different stored wallet.
func (s *Service) CreateOrImportWallet(ctx context.Context, mnemonic string) (string, error) {
	key, err := s.keys.Create(ctx, mnemonic)
	if err != nil {
		return "", err
	}
	s.forgetSnapshots()
	return key.Address, nil
}

// ReplaceWallet destroys the stored wallet and establishes a new one.
func (s *Service) ReplaceWallet(ctx context.Context, mnemonic string) (string, error) {
	key, err := s.keys.Replace(ctx, mnemonic)
	if err != nil {
		return "", err
	}
	s.forgetSnapshots()
	return key.Address, nil
}

// LoadWallet restores the stored identity without recreating it.
func (s *Service) LoadWallet(ctx context.Context) (string, error) {
	key, err := s.keys.Restore(ctx)
	if err != nil {
		return "", err
	}
	return key.Address, nil
}

// HasWallet reports whether a wallet secret exists on this device.
func (s *Service) HasWallet(ctx context.Context) (bool, error) {
	return s.keys.HasWallet(ctx)
}

// Address returns the active account, or keys.ErrNoWalletFound.
func (s *Service) Address() (string, error) {
	key, ok := s.keys.Active()
	if !ok {
		return "", keys.ErrNoWalletFound
	}
	return key.Address, nil
}

// DeleteWallet irreversibly wipes the wallet secret.
func (s *Service) DeleteWallet(ctx context.Context) error {
	if err := s.keys.Delete(ctx); err != nil {
		return err
	}
	s.forgetSnapshots()
	return nil
}

// GetBalance reads the three ledgers in parallel. A ledger that cannot be
// read is reported as zero and listed in Degraded; only cancellation of ctx
// fails the call. An empty address means the active account.
func (s *Service) GetBalance(ctx context.Context, address string) (Balance, error) {
	if address == "" {
		active, err := s.Address()
		if err != nil {
			return Balance{}, err
		}
		address = active
	}
	if err := keys.ValidateAddress(address, s.cfg.SS58Prefix); err != nil {
		return Balance{}, err
	}

	bal := Balance{
		Address:    address,
		Native:     amount.Zero(),
		Governance: amount.Zero(),
		Staked:     amount.Zero(),
	}
	reads := []struct {
		name  string
		dst   *amount.Amount
		fetch func(context.Context) (amount.Amount, error)
	}{
		{LedgerNative, &bal.Native, func(ctx context.Context) (amount.Amount, error) {
			return s.chain.NativeBalance(ctx, address)
		}},
		{LedgerGovernance, &bal.Governance, func(ctx context.Context) (amount.Amount, error) {
			return s.chain.AssetBalance(ctx, s.cfg.GovernanceAssetID, address)
		}},
		{LedgerStaked, &bal.Staked, func(ctx context.Context) (amount.Amount, error) {
			return s.chain.StakedAmount(ctx, address)
		}},
	}

	var (
		g        errgroup.Group
		degraded sync.Mutex
	)
	for _, r := range reads {
		g.Go(func() error {
			start := time.Now()
			v, err := chain.RetryOnce(ctx, r.fetch)
			s.metrics.ObserveChainLatency("balance_"+r.name, time.Since(start))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("balance query degraded", "ledger", r.name, "address", address, "error", err)
				s.metrics.IncrementBalanceDegraded(r.name)
				degraded.Lock()
				bal.Degraded = append(bal.Degraded, r.name)
				degraded.Unlock()
				return nil
			}
			*r.dst = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Balance{}, err
	}
	sort.Strings(bal.Degraded)
	bal.AsOf = time.Now().UTC()

	s.remember(bal)
	return bal, nil
}

// FormatBalance renders b with two display decimals.
func (s *Service) FormatBalance(b Balance) DisplayBalance {
	return DisplayBalance{
		Native:     amount.ToDisplay(b.Native, s.cfg.Decimals),
		Governance: amount.ToDisplay(b.Governance, s.cfg.Decimals),
		Staked:     amount.ToDisplay(b.Staked, s.cfg.Decimals),
	}
}

// remember stores the ledgers that were actually read; degraded zeros never
// become spendable balance.
func (s *Service) remember(b Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[b.Address]
	if !ok {
		snap = make(map[ledger.Token]amount.Amount)
		s.snapshots[b.Address] = snap
	}
	failed := make(map[string]bool, len(b.Degraded))
	for _, name := range b.Degraded {
		failed[name] = true
	}
	if !failed[LedgerNative] {
		snap[ledger.TokenNative] = b.Native
	}
	if !failed[LedgerGovernance] {
		snap[ledger.TokenGovernance] = b.Governance
	}
}

func (s *Service) snapshot(address string, token ledger.Token) (amount.Amount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snapshots[address][token]
	return v, ok
}

func (s *Service) forgetSnapshots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[string]map[ledger.Token]amount.Amount)
}

// spendable fetches one token balance when no snapshot exists yet.
func (s *Service) spendable(ctx context.Context, address string, token ledger.Token) (amount.Amount, error) {
	if v, ok := s.snapshot(address, token); ok {
		return v, nil
	}
	v, err := chain.RetryOnce(ctx, func(ctx context.Context) (amount.Amount, error) {
		if token == ledger.TokenGovernance {
			return s.chain.AssetBalance(ctx, s.cfg.GovernanceAssetID, address)
		}
		return s.chain.NativeBalance(ctx, address)
	})
	if err != nil {
		return amount.Zero(), err
	}
	s.mu.Lock()
	if s.snapshots[address] == nil {
		s.snapshots[address] = make(map[ledger.Token]amount.Amount)
	}
	s.snapshots[address][token] = v
	s.mu.Unlock()
	return v, nil
}

// pendingOutgoing sums sends of token from address that are not yet terminal.
func (s *Service) pendingOutgoing(ctx context.Context, address string, token ledger.Token) (amount.Amount, error) {
	pending, err := s.ledger.Pending(ctx)
	if err != nil {
		return amount.Zero(), err
	}
	total := amount.Zero()
	for _, tx := range pending {
		if tx.Account == address && tx.Token == token && tx.Direction == ledger.DirectionSend {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

// Close stops trackers from polling and waits for them to exit. Entries still
// pending are picked up by ResumeTracking on the next start.
func (s *Service) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	done := make(chan struct{})
	go func() {
		s.trackers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("wallet trackers still running"), ctx.Err())
	}
}
