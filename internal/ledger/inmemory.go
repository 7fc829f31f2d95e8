package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	transactions map[string]Transaction
	now          func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and for running without a database.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		transactions: make(map[string]Transaction),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) Record(_ context.Context, tx Transaction) (Transaction, error) {
	if !tx.Token.Valid() {
		return Transaction{}, fmt.Errorf("unknown token %q", tx.Token)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx = prepare(tx, newID, l.now())
	if _, exists := l.transactions[tx.ID]; exists {
		return Transaction{}, ErrDuplicateTransaction
	}
	l.transactions[tx.ID] = tx
	return tx, nil
}

func (l *inMemoryLedger) MarkSubmitted(_ context.Context, id, chainRef string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if tx.Status.Terminal() {
		return tx, ErrTerminal
	}
	tx.ChainRef = chainRef
	tx.UpdatedAt = l.now()
	l.transactions[id] = tx
	return tx, nil
}

func (l *inMemoryLedger) Finalize(_ context.Context, id string, status Status, blockRef, reason string) (Transaction, error) {
	if !status.Terminal() {
		return Transaction{}, fmt.Errorf("status %q is not terminal", status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if tx.Status.Terminal() {
		return tx, ErrTerminal
	}
	tx.Status = status
	tx.BlockRef = blockRef
	tx.FailureReason = reason
	tx.UpdatedAt = l.now()
	l.transactions[id] = tx
	return tx, nil
}

func (l *inMemoryLedger) Get(_ context.Context, id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (l *inMemoryLedger) ListByAccount(_ context.Context, account string, limit int) ([]Transaction, error) {
	l.mu.RLock()
	out := make([]Transaction, 0)
	for _, tx := range l.transactions {
		if tx.Account == account {
			out = append(out, tx)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *inMemoryLedger) Pending(_ context.Context) ([]Transaction, error) {
	l.mu.RLock()
	out := make([]Transaction, 0)
	for _, tx := range l.transactions {
		if !tx.Status.Terminal() {
			out = append(out, tx)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
