package repo

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the partner or withdrawal does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrPromoCodeTaken indicates another partner already owns the promo code.
	ErrPromoCodeTaken = errors.New("promo code already taken")
	// ErrAlreadyHasCode indicates the partner already holds a promo code.
	ErrAlreadyHasCode = errors.New("partner already has a promo code")
	// ErrNotPending indicates the withdrawal already reached a terminal status.
	ErrNotPending = errors.New("withdrawal is not pending")
	// ErrNegativeReferrals indicates a mutation would drive referrals below zero.
	ErrNegativeReferrals = errors.New("referral count cannot be negative")
)

// Repository defines the interface for ledger persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Partners
	UpsertPartner(ctx context.Context, profile PartnerProfile) (*Partner, error)
	GetPartner(ctx context.Context, userID int64) (*Partner, error)
	ListPartners(ctx context.Context) ([]Partner, error)
	SearchPartners(ctx context.Context, term string) ([]Partner, error)
	ApplyPartnerDelta(ctx context.Context, userID int64, referralsDelta int, balanceDelta decimal.Decimal) (*StatChange, error)
	SetPartnerAbsolute(ctx context.Context, userID int64, referrals int, balance decimal.Decimal) (*StatChange, error)

	// Test results
	AppendTestResult(ctx context.Context, result TestResult) (*TestResult, error)
	ListTestResults(ctx context.Context, userID int64) ([]TestResult, error)

	// Promo codes
	ReserveAndAssignPromoCode(ctx context.Context, userID int64, code string) (*Partner, error)

	// Withdrawals
	CreateWithdrawal(ctx context.Context, w NewWithdrawal) (*Withdrawal, error)
	GetWithdrawal(ctx context.Context, id int64) (*Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context) ([]Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id int64, at time.Time) (*Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id int64, reason string, at time.Time) (*Withdrawal, error)
}

// RejectionComment appends the rejection reason to an existing comment.
func RejectionComment(current *string, reason string) *string {
	if reason == "" {
		return current
	}
	prev := ""
	if current != nil {
		prev = *current
	}
	out := strings.TrimSpace(prev + "\n\nRejection reason: " + reason)
	return &out
}

// likePattern escapes LIKE wildcards in a user supplied search term.
func likePattern(term string) string {
	escaped := make([]rune, 0, len(term)+2)
	escaped = append(escaped, '%')
	for _, r := range term {
		switch r {
		case '%', '_', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, r)
	}
	escaped = append(escaped, '%')
	return string(escaped)
}
