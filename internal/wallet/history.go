package wallet

import (
	"context"
	"sort"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// History merges the local journal with transfers reported by the chain,
// newest first. A chain event whose extrinsic hash is already journaled is
// dropped. When the chain cannot be reached only the journal is returned.
func (s *Service) History(ctx context.Context, address string, limit int) ([]ledger.Transaction, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	if address == "" {
		active, err := s.Address()
		if err != nil {
			return nil, err
		}
		address = active
	}
	if err := keys.ValidateAddress(address, s.cfg.SS58Prefix); err != nil {
		return nil, err
	}

	local, err := s.ledger.ListByAccount(ctx, address, MaxHistoryLimit)
	if err != nil {
		return nil, err
	}
	events, err := chain.RetryOnce(ctx, func(ctx context.Context) ([]chain.RawEvent, error) {
		return s.chain.RecentEvents(ctx, address)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("chain history unavailable", "address", address, "error", err)
	}

	merged := make([]ledger.Transaction, 0, len(local)+len(events))
	seen := make(map[string]struct{}, len(local)+len(events))
	for _, tx := range local {
		if tx.ChainRef != "" {
			seen[tx.ChainRef] = struct{}{}
		}
		merged = append(merged, tx)
	}
	for _, ev := range events {
		if ev.TxHash != "" {
			if _, dup := seen[ev.TxHash]; dup {
				continue
			}
			seen[ev.TxHash] = struct{}{}
		}
		if tx, ok := s.fromEvent(address, ev); ok {
			merged = append(merged, tx)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].SubmittedAt.After(merged[j].SubmittedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *Service) fromEvent(address string, ev chain.RawEvent) (ledger.Transaction, bool) {
	token := ledger.TokenNative
	if ev.AssetID != nil {
		if *ev.AssetID != s.cfg.GovernanceAssetID {
			return ledger.Transaction{}, false
		}
		token = ledger.TokenGovernance
	}

	tx := ledger.Transaction{
		ID:          ev.ID,
		Account:     address,
		Direction:   ledger.DirectionReceive,
		Token:       token,
		Amount:      ev.Amount,
		SubmittedAt: ev.Timestamp,
		ChainRef:    ev.TxHash,
		BlockRef:    ev.BlockHash,
		Status:      ledger.StatusConfirmed,
		UpdatedAt:   ev.Timestamp,
	}
	switch address {
	case ev.To:
		tx.Counterparty = ev.From
	case ev.From:
		// sent from another device holding the same key
		tx.Direction = ledger.DirectionSend
		tx.Counterparty = ev.To
	default:
		return ledger.Transaction{}, false
	}
	if tx.ID == "" {
		tx.ID = "chain:" + ev.TxHash
	}
	if tx.Amount.IsNil() {
		tx.Amount = amount.Zero()
	}
	return tx, true
}
