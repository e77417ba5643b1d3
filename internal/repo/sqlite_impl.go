package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// -- Partners --

func (r *SQLiteRepository) UpsertPartner(ctx context.Context, profile PartnerProfile) (*Partner, error) {
	const q = `
INSERT INTO partners (user_id, username, full_name, registered_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO NOTHING;
`
	if _, err := r.db.ExecContext(ctx, q, profile.UserID, profile.Username, profile.FullName, r.now()); err != nil {
		return nil, fmt.Errorf("upsert partner: %w", err)
	}
	return r.GetPartner(ctx, profile.UserID)
}

func (r *SQLiteRepository) GetPartner(ctx context.Context, userID int64) (*Partner, error) {
	q := `SELECT ` + partnerColumns + ` FROM partners WHERE user_id = ? LIMIT 1;`
	p, err := scanPartner(r.db.QueryRowContext(ctx, q, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get partner: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListPartners(ctx context.Context) ([]Partner, error) {
	q := `SELECT ` + partnerColumns + ` FROM partners ORDER BY registered_at DESC, user_id DESC;`
	return r.queryPartners(ctx, "list partners", q)
}

func (r *SQLiteRepository) SearchPartners(ctx context.Context, term string) ([]Partner, error) {
	q := `
SELECT ` + partnerColumns + `
FROM partners
WHERE CAST(user_id AS TEXT) LIKE ?1 ESCAPE '\'
   OR username LIKE ?1 ESCAPE '\'
   OR promo_code LIKE ?1 ESCAPE '\'
ORDER BY registered_at DESC, user_id DESC;
`
	return r.queryPartners(ctx, "search partners", q, likePattern(term))
}

func (r *SQLiteRepository) queryPartners(ctx context.Context, op, q string, args ...any) ([]Partner, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var partners []Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}
		partners = append(partners, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}
	return partners, nil
}

func (r *SQLiteRepository) ApplyPartnerDelta(ctx context.Context, userID int64, referralsDelta int, balanceDelta decimal.Decimal) (*StatChange, error) {
	return r.mutateStats(ctx, "apply partner delta", userID, func(before PartnerStats) (PartnerStats, error) {
		return applyDelta(before, referralsDelta, balanceDelta)
	})
}

func (r *SQLiteRepository) SetPartnerAbsolute(ctx context.Context, userID int64, referrals int, balance decimal.Decimal) (*StatChange, error) {
	return r.mutateStats(ctx, "set partner stats", userID, func(PartnerStats) (PartnerStats, error) {
		if referrals < 0 {
			return PartnerStats{}, ErrNegativeReferrals
		}
		return PartnerStats{Referrals: referrals, Balance: balance}, nil
	})
}

func (r *SQLiteRepository) mutateStats(ctx context.Context, op string, userID int64, next func(PartnerStats) (PartnerStats, error)) (*StatChange, error) {
	var change StatChange
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		p, err := r.partnerTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		before := statsOf(p)
		after, err := next(before)
		if err != nil {
			return err
		}

		const upd = `UPDATE partners SET referrals = ?, balance = ? WHERE user_id = ?;`
		if _, err := tx.ExecContext(ctx, upd, after.Referrals, after.Balance.String(), userID); err != nil {
			return err
		}

		p.Referrals = after.Referrals
		p.Balance = after.Balance
		change = StatChange{Partner: *p, Before: before, After: after}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNegativeReferrals) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &change, nil
}

func (r *SQLiteRepository) partnerTx(ctx context.Context, tx *sql.Tx, userID int64) (*Partner, error) {
	q := `SELECT ` + partnerColumns + ` FROM partners WHERE user_id = ?;`
	p, err := scanPartner(tx.QueryRowContext(ctx, q, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// -- Test results --

func (r *SQLiteRepository) AppendTestResult(ctx context.Context, result TestResult) (*TestResult, error) {
	const q = `
INSERT INTO test_results (user_id, score, total_questions, passed_at)
VALUES (?, ?, ?, ?)
RETURNING id;
`
	result.PassedAt = r.now()
	if err := r.db.QueryRowContext(ctx, q, result.UserID, result.Score, result.TotalQuestions, result.PassedAt).Scan(&result.ID); err != nil {
		return nil, fmt.Errorf("append test result: %w", err)
	}
	return &result, nil
}

func (r *SQLiteRepository) ListTestResults(ctx context.Context, userID int64) ([]TestResult, error) {
	const q = `
SELECT id, user_id, score, total_questions, passed_at
FROM test_results
WHERE user_id = ?
ORDER BY passed_at ASC, id ASC;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list test results: %w", err)
	}
	defer rows.Close()

	var results []TestResult
	for rows.Next() {
		var res TestResult
		if err := rows.Scan(&res.ID, &res.UserID, &res.Score, &res.TotalQuestions, &res.PassedAt); err != nil {
			return nil, fmt.Errorf("scan test result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test results: %w", err)
	}
	return results, nil
}

// -- Promo codes --

func (r *SQLiteRepository) ReserveAndAssignPromoCode(ctx context.Context, userID int64, code string) (*Partner, error) {
	var out *Partner
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		p, err := r.partnerTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if p.PromoCode != nil {
			return ErrAlreadyHasCode
		}

		const reserve = `
INSERT INTO used_promo_codes (promo_code, user_id)
VALUES (?, ?)
ON CONFLICT (promo_code) DO NOTHING;
`
		res, err := tx.ExecContext(ctx, reserve, code, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPromoCodeTaken
		}

		const assign = `UPDATE partners SET promo_code = ?, is_active = 1 WHERE user_id = ? AND promo_code IS NULL;`
		res, err = tx.ExecContext(ctx, assign, code, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadyHasCode
		}

		out, err = r.partnerTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyHasCode), errors.Is(err, ErrPromoCodeTaken):
			return nil, err
		}
		return nil, fmt.Errorf("reserve promo code: %w", err)
	}
	return out, nil
}

// -- Withdrawals --

func (r *SQLiteRepository) CreateWithdrawal(ctx context.Context, w NewWithdrawal) (*Withdrawal, error) {
	const q = `
INSERT INTO withdrawal_requests (user_id, amount, requisites, comment, status, created_at)
VALUES (?, ?, ?, ?, 'pending', ?)
RETURNING id;
`
	var id int64
	if err := r.db.QueryRowContext(ctx, q, w.UserID, w.Amount.String(), w.Requisites, w.Comment, r.now()).Scan(&id); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	return r.GetWithdrawal(ctx, id)
}

func (r *SQLiteRepository) GetWithdrawal(ctx context.Context, id int64) (*Withdrawal, error) {
	q := `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests w
JOIN partners p ON p.user_id = w.user_id
WHERE w.id = ?
LIMIT 1;
`
	w, err := scanWithdrawal(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

func (r *SQLiteRepository) ListPendingWithdrawals(ctx context.Context) ([]Withdrawal, error) {
	q := `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests w
JOIN partners p ON p.user_id = w.user_id
WHERE w.status = 'pending'
ORDER BY w.created_at DESC, w.id DESC;
`
	rows, err := r.db.QueryContext(ctx, q)
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

func (r *SQLiteRepository) CompleteWithdrawal(ctx context.Context, id int64, at time.Time) (*Withdrawal, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		userID, amount, err := r.pendingTx(ctx, tx, id)
		if err != nil {
			return err
		}

		const mark = `UPDATE withdrawal_requests SET status = 'completed', processed_at = ? WHERE id = ? AND status = 'pending';`
		if _, err := tx.ExecContext(ctx, mark, at.UTC(), id); err != nil {
			return err
		}

		p, err := r.partnerTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		const debit = `UPDATE partners SET balance = ? WHERE user_id = ?;`
		_, err = tx.ExecContext(ctx, debit, p.Balance.Sub(amount).String(), userID)
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

func (r *SQLiteRepository) RejectWithdrawal(ctx context.Context, id int64, reason string, at time.Time) (*Withdrawal, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, _, err := r.pendingTx(ctx, tx, id); err != nil {
			return err
		}

		var comment *string
		if err := tx.QueryRowContext(ctx, `SELECT comment FROM withdrawal_requests WHERE id = ?;`, id).Scan(&comment); err != nil {
			return err
		}

		const upd = `
UPDATE withdrawal_requests
SET status = 'rejected', processed_at = ?, comment = ?
WHERE id = ? AND status = 'pending';
`
		_, err := tx.ExecContext(ctx, upd, at.UTC(), RejectionComment(comment, reason), id)
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

func (r *SQLiteRepository) pendingTx(ctx context.Context, tx *sql.Tx, id int64) (int64, decimal.Decimal, error) {
	const q = `SELECT user_id, amount, status FROM withdrawal_requests WHERE id = ?;`
	var userID int64
	var amount decimal.Decimal
	var status string
	if err := tx.QueryRowContext(ctx, q, id).Scan(&userID, &amount, &status); err != nil {
		if isNoRows(err) {
			return 0, decimal.Zero, ErrNotFound
		}
		return 0, decimal.Zero, err
	}
	if status != StatusPending {
		return 0, decimal.Zero, ErrNotPending
	}
	return userID, amount, nil
}
