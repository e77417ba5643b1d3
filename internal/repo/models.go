package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
)

// Partner represents the partners table row.
type Partner struct {
	UserID       int64
	Username     *string
	FullName     string
	PromoCode    *string
	Referrals    int
	Balance      decimal.Decimal
	IsActive     bool
	RegisteredAt time.Time
}

// PartnerProfile carries data used to upsert a partner on first contact.
type PartnerProfile struct {
	UserID   int64
	Username *string
	FullName string
}

// PartnerStats is the mutable part of the ledger.
type PartnerStats struct {
	Referrals int
	Balance   decimal.Decimal
}

// StatChange reports ledger values before and after a single mutation.
type StatChange struct {
	Partner Partner
	Before  PartnerStats
	After   PartnerStats
}

// TestResult represents an append-only test_results row.
type TestResult struct {
	ID             int64
	UserID         int64
	Score          int
	TotalQuestions int
	PassedAt       time.Time
}

// NewWithdrawal carries the fields of a withdrawal request being created.
type NewWithdrawal struct {
	UserID     int64
	Amount     decimal.Decimal
	Requisites string
	Comment    *string
}

// Withdrawal represents a withdrawal_requests row. Username and FullName are
// populated on reads joined with partners.
type Withdrawal struct {
	ID          int64
	UserID      int64
	Amount      decimal.Decimal
	Requisites  string
	Comment     *string
	Status      string
	CreatedAt   time.Time
	ProcessedAt *time.Time

	Username *string
	FullName string
}
