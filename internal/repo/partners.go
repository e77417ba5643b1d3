package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// UpsertPartner creates the partner on first contact and leaves existing rows untouched.
func (r *PostgresRepository) UpsertPartner(ctx context.Context, profile PartnerProfile) (*Partner, error) {
	const q = `
INSERT INTO partners (user_id, username, full_name, registered_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO NOTHING;
`
	if _, err := r.pool.Exec(ctx, q, profile.UserID, profile.Username, profile.FullName); err != nil {
		return nil, fmt.Errorf("upsert partner: %w", err)
	}
	return r.GetPartner(ctx, profile.UserID)
}

// GetPartner returns a partner by chat user id.
func (r *PostgresRepository) GetPartner(ctx context.Context, userID int64) (*Partner, error) {
	q := `SELECT ` + partnerColumns + ` FROM partners WHERE user_id = $1 LIMIT 1;`
	p, err := scanPartner(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get partner: %w", err)
	}
	return p, nil
}

// ListPartners returns every partner, newest registrations first.
func (r *PostgresRepository) ListPartners(ctx context.Context) ([]Partner, error) {
	q := `SELECT ` + partnerColumns + ` FROM partners ORDER BY registered_at DESC, user_id DESC;`
	return r.queryPartners(ctx, "list partners", q)
}

// SearchPartners matches the term against user id, username and promo code.
func (r *PostgresRepository) SearchPartners(ctx context.Context, term string) ([]Partner, error) {
	q := `
SELECT ` + partnerColumns + `
FROM partners
WHERE CAST(user_id AS TEXT) LIKE $1 ESCAPE '\'
   OR username ILIKE $1 ESCAPE '\'
   OR promo_code ILIKE $1 ESCAPE '\'
ORDER BY registered_at DESC, user_id DESC;
`
	return r.queryPartners(ctx, "search partners", q, likePattern(term))
}

func (r *PostgresRepository) queryPartners(ctx context.Context, op, q string, args ...any) ([]Partner, error) {
	rows, err := r.pool.Query(ctx, q, args...)
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

// ApplyPartnerDelta adjusts referrals and balance relative to their current values.
func (r *PostgresRepository) ApplyPartnerDelta(ctx context.Context, userID int64, referralsDelta int, balanceDelta decimal.Decimal) (*StatChange, error) {
	return r.mutateStats(ctx, "apply partner delta", userID, func(before PartnerStats) (PartnerStats, error) {
		return applyDelta(before, referralsDelta, balanceDelta)
	})
}

// SetPartnerAbsolute replaces referrals and balance.
func (r *PostgresRepository) SetPartnerAbsolute(ctx context.Context, userID int64, referrals int, balance decimal.Decimal) (*StatChange, error) {
	return r.mutateStats(ctx, "set partner stats", userID, func(PartnerStats) (PartnerStats, error) {
		if referrals < 0 {
			return PartnerStats{}, ErrNegativeReferrals
		}
		return PartnerStats{Referrals: referrals, Balance: balance}, nil
	})
}

func (r *PostgresRepository) mutateStats(ctx context.Context, op string, userID int64, next func(PartnerStats) (PartnerStats, error)) (*StatChange, error) {
	var change StatChange
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		q := `SELECT ` + partnerColumns + ` FROM partners WHERE user_id = $1 FOR UPDATE;`
		p, err := scanPartner(tx.QueryRow(ctx, q, userID))
		if err != nil {
			if isNoRows(err) {
				return ErrNotFound
			}
			return err
		}

		before := statsOf(p)
		after, err := next(before)
		if err != nil {
			return err
		}

		const upd = `UPDATE partners SET referrals = $2, balance = $3 WHERE user_id = $1;`
		if _, err := tx.Exec(ctx, upd, userID, after.Referrals, after.Balance); err != nil {
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

// AppendTestResult stores a completed qualification test attempt.
func (r *PostgresRepository) AppendTestResult(ctx context.Context, result TestResult) (*TestResult, error) {
	const q = `
INSERT INTO test_results (user_id, score, total_questions, passed_at)
VALUES ($1, $2, $3, NOW())
RETURNING id, passed_at;
`
	if err := r.pool.QueryRow(ctx, q, result.UserID, result.Score, result.TotalQuestions).Scan(&result.ID, &result.PassedAt); err != nil {
		return nil, fmt.Errorf("append test result: %w", err)
	}
	return &result, nil
}

// ListTestResults returns the attempt history of a partner, oldest first.
func (r *PostgresRepository) ListTestResults(ctx context.Context, userID int64) ([]TestResult, error) {
	const q = `
SELECT id, user_id, score, total_questions, passed_at
FROM test_results
WHERE user_id = $1
ORDER BY passed_at ASC, id ASC;
`
	rows, err := r.pool.Query(ctx, q, userID)
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

// ReserveAndAssignPromoCode reserves the code in used_promo_codes and attaches
// it to the partner, activating the account. Both writes commit together.
func (r *PostgresRepository) ReserveAndAssignPromoCode(ctx context.Context, userID int64, code string) (*Partner, error) {
	var out *Partner
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		q := `SELECT ` + partnerColumns + ` FROM partners WHERE user_id = $1 FOR UPDATE;`
		p, err := scanPartner(tx.QueryRow(ctx, q, userID))
		if err != nil {
			if isNoRows(err) {
				return ErrNotFound
			}
			return err
		}
		if p.PromoCode != nil {
			return ErrAlreadyHasCode
		}

		const reserve = `
INSERT INTO used_promo_codes (promo_code, user_id)
VALUES ($1, $2)
ON CONFLICT (promo_code) DO NOTHING;
`
		ct, err := tx.Exec(ctx, reserve, code, userID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrPromoCodeTaken
		}

		assign := `
UPDATE partners
SET promo_code = $2, is_active = TRUE
WHERE user_id = $1 AND promo_code IS NULL
RETURNING ` + partnerColumns + `;`
		out, err = scanPartner(tx.QueryRow(ctx, assign, userID, code))
		if err != nil {
			if isNoRows(err) {
				return ErrAlreadyHasCode
			}
			return err
		}
		return nil
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
