package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
)

// PostgresLedger persists the transfer journal in PostgreSQL.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const selectColumns = `id, account, direction, token, amount::text, counterparty, nonce,
        submitted_at, chain_ref, block_ref, status, failure_reason, updated_at`

// Record inserts a new pending entry.
func (l *PostgresLedger) Record(ctx context.Context, tx Transaction) (Transaction, error) {
	if !tx.Token.Valid() {
		return Transaction{}, fmt.Errorf("unknown token %q", tx.Token)
	}
	tx = prepare(tx, newID, time.Now().UTC())

	_, err := l.db.Exec(ctx, `INSERT INTO transactions
        (id, account, direction, token, amount, counterparty, nonce, submitted_at, chain_ref, block_ref, status, failure_reason, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, '', '', $9, '', $10)`,
		tx.ID, tx.Account, tx.Direction, tx.Token, tx.Amount.String(), tx.Counterparty, tx.Nonce,
		tx.SubmittedAt, tx.Status, tx.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transaction{}, ErrDuplicateTransaction
		}
		return Transaction{}, err
	}
	return tx, nil
}

// MarkSubmitted stores the extrinsic hash while the entry is still pending.
func (l *PostgresLedger) MarkSubmitted(ctx context.Context, id, chainRef string) (Transaction, error) {
	return l.update(ctx, id, func(tx *Transaction) error {
		tx.ChainRef = chainRef
		return nil
	})
}

// Finalize sets the terminal status. The row is locked so concurrent trackers
// cannot both win.
func (l *PostgresLedger) Finalize(ctx context.Context, id string, status Status, blockRef, reason string) (Transaction, error) {
	if !status.Terminal() {
		return Transaction{}, fmt.Errorf("status %q is not terminal", status)
	}
	return l.update(ctx, id, func(tx *Transaction) error {
		tx.Status = status
		tx.BlockRef = blockRef
		tx.FailureReason = reason
		return nil
	})
}

func (l *PostgresLedger) update(ctx context.Context, id string, mutate func(*Transaction) error) (Transaction, error) {
	dbTx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer dbTx.Rollback(ctx) // nolint:errcheck

	tx, err := scanTransaction(dbTx.QueryRow(ctx, `SELECT `+selectColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status.Terminal() {
		return tx, ErrTerminal
	}
	if err := mutate(&tx); err != nil {
		return Transaction{}, err
	}
	tx.UpdatedAt = time.Now().UTC()

	if _, err := dbTx.Exec(ctx, `UPDATE transactions
        SET chain_ref = $2, block_ref = $3, status = $4, failure_reason = $5, updated_at = $6
        WHERE id = $1`, tx.ID, tx.ChainRef, tx.BlockRef, tx.Status, tx.FailureReason, tx.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Get loads one entry.
func (l *PostgresLedger) Get(ctx context.Context, id string) (Transaction, error) {
	return scanTransaction(l.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM transactions WHERE id = $1`, id))
}

// ListByAccount returns the newest entries for account.
func (l *PostgresLedger) ListByAccount(ctx context.Context, account string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, `SELECT `+selectColumns+` FROM transactions
        WHERE account = $1 ORDER BY submitted_at DESC, id DESC LIMIT $2`, account, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Pending returns all non-terminal entries.
func (l *PostgresLedger) Pending(ctx context.Context) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+selectColumns+` FROM transactions
        WHERE status = $1 ORDER BY submitted_at ASC`, StatusPending)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx        Transaction
		rawAmount string
	)
	err := row.Scan(&tx.ID, &tx.Account, &tx.Direction, &tx.Token, &rawAmount, &tx.Counterparty, &tx.Nonce,
		&tx.SubmittedAt, &tx.ChainRef, &tx.BlockRef, &tx.Status, &tx.FailureReason, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	if tx.Amount, err = amount.Parse(rawAmount); err != nil {
		return Transaction{}, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
	}
	return tx, nil
}
