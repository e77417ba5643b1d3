package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CreateWithdrawal stores a new pending withdrawal request and returns it with its id.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w NewWithdrawal) (*Withdrawal, error) {
	const q = `
INSERT INTO withdrawal_requests (user_id, amount, requisites, comment, status, created_at)
VALUES ($1, $2, $3, $4, 'pending', NOW())
RETURNING id;
`
	var id int64
	if err := r.pool.QueryRow(ctx, q, w.UserID, w.Amount, w.Requisites, w.Comment).Scan(&id); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	return r.GetWithdrawal(ctx, id)
}

// GetWithdrawal retrieves a withdrawal joined with the partner display fields.
func (r *PostgresRepository) GetWithdrawal(ctx context.Context, id int64) (*Withdrawal, error) {
	q := `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests w
JOIN partners p ON p.user_id = w.user_id
WHERE w.id = $1
LIMIT 1;
`
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

// ListPendingWithdrawals returns pending requests, newest first.
func (r *PostgresRepository) ListPendingWithdrawals(ctx context.Context) ([]Withdrawal, error) {
	q := `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests w
JOIN partners p ON p.user_id = w.user_id
WHERE w.status = 'pending'
ORDER BY w.created_at DESC, w.id DESC;
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending withdrawal: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending withdrawals: %w", err)
	}
	return out, nil
}

// CompleteWithdrawal marks a pending request completed and debits the partner
// balance in the same transaction. Terminal requests are left untouched.
func (r *PostgresRepository) CompleteWithdrawal(ctx context.Context, id int64, at time.Time) (*Withdrawal, error) {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const q = `
UPDATE withdrawal_requests
SET status = 'completed', processed_at = $2
WHERE id = $1 AND status = 'pending'
RETURNING user_id, amount;
`
		var userID int64
		var amount decimal.Decimal
		if err := tx.QueryRow(ctx, q, id, at).Scan(&userID, &amount); err != nil {
			if isNoRows(err) {
				return terminalOrMissing(ctx, tx, id)
			}
			return err
		}

		const debit = `UPDATE partners SET balance = balance - $2 WHERE user_id = $1;`
		_, err := tx.Exec(ctx, debit, userID, amount)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPending) {
			return nil, err
		}
		return nil, fmt.Errorf("complete withdrawal: %w", err)
	}
	return r.GetWithdrawal(ctx, id)
}

// RejectWithdrawal marks a pending request rejected, appending the reason to its comment.
func (r *PostgresRepository) RejectWithdrawal(ctx context.Context, id int64, reason string, at time.Time) (*Withdrawal, error) {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const sel = `SELECT comment, status FROM withdrawal_requests WHERE id = $1 FOR UPDATE;`
		var comment *string
		var status string
		if err := tx.QueryRow(ctx, sel, id).Scan(&comment, &status); err != nil {
			if isNoRows(err) {
				return ErrNotFound
			}
			return err
		}
		if status != StatusPending {
			return ErrNotPending
		}

		const upd = `
UPDATE withdrawal_requests
SET status = 'rejected', processed_at = $2, comment = $3
WHERE id = $1;
`
		_, err := tx.Exec(ctx, upd, id, at, RejectionComment(comment, reason))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPending) {
			return nil, err
		}
		return nil, fmt.Errorf("reject withdrawal: %w", err)
	}
	return r.GetWithdrawal(ctx, id)
}

func terminalOrMissing(ctx context.Context, tx pgx.Tx, id int64) error {
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM withdrawal_requests WHERE id = $1;`, id).Scan(&status); err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return err
	}
	return ErrNotPending
}
