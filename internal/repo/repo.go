package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const partnerColumns = `user_id, username, full_name, promo_code, referrals, balance, is_active, registered_at`

const withdrawalColumns = `w.id, w.user_id, w.amount, w.requisites, w.comment, w.status, w.created_at, w.processed_at, p.username, p.full_name`

// PostgresRepository provides typed access to the ledger tables in Postgres.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem, r.logger)
}

// WithTx executes fn within a database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartner(row rowScanner) (*Partner, error) {
	var p Partner
	if err := row.Scan(&p.UserID, &p.Username, &p.FullName, &p.PromoCode, &p.Referrals, &p.Balance, &p.IsActive, &p.RegisteredAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanWithdrawal(row rowScanner) (*Withdrawal, error) {
	var w Withdrawal
	var processedAt sql.NullTime
	if err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Requisites, &w.Comment, &w.Status, &w.CreatedAt, &processedAt, &w.Username, &w.FullName); err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		w.ProcessedAt = &t
	}
	return &w, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

func applyDelta(before PartnerStats, referralsDelta int, balanceDelta decimal.Decimal) (PartnerStats, error) {
	after := PartnerStats{
		Referrals: before.Referrals + referralsDelta,
		Balance:   before.Balance.Add(balanceDelta),
	}
	if after.Referrals < 0 {
		return PartnerStats{}, ErrNegativeReferrals
	}
	return after, nil
}

func statsOf(p *Partner) PartnerStats {
	return PartnerStats{Referrals: p.Referrals, Balance: p.Balance}
}
