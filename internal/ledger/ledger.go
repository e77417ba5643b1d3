package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/keylock"
	"partner-bot/internal/metrics"
	"partner-bot/internal/repo"

	"github.com/shopspring/decimal"
)

// ErrNegativeReferrals is returned when a mutation would leave referrals below zero.
var ErrNegativeReferrals = repo.ErrNegativeReferrals

// Store is the subset of the ledger store used for bookkeeping.
type Store interface {
	GetPartner(ctx context.Context, userID int64) (*repo.Partner, error)
	ApplyPartnerDelta(ctx context.Context, userID int64, referralsDelta int, balanceDelta decimal.Decimal) (*repo.StatChange, error)
	SetPartnerAbsolute(ctx context.Context, userID int64, referrals int, balance decimal.Decimal) (*repo.StatChange, error)
	ReserveAndAssignPromoCode(ctx context.Context, userID int64, code string) (*repo.Partner, error)
}

// Notifier delivers best-effort messages.
type Notifier interface {
	NotifyPartner(ctx context.Context, partnerID int64, msg chat.Reply)
	NotifyAdmins(ctx context.Context, msg chat.Reply)
}

// Ledger mutates referral counts and balances and tells the partner about it.
type Ledger struct {
	store    Store
	notifier Notifier
	locks    *keylock.Locker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a Ledger. locks serializes mutations per partner and is shared
// with the other workflows touching the same records.
func New(store Store, notifier Notifier, locks *keylock.Locker, logger *slog.Logger, metricRegistry *metrics.Metrics) *Ledger {
	return &Ledger{
		store:    store,
		notifier: notifier,
		locks:    locks,
		logger:   logger.With("component", "ledger"),
		metrics:  metricRegistry,
	}
}

// ApplyDelta adjusts referrals and balance relative to the current values.
func (l *Ledger) ApplyDelta(ctx context.Context, partnerID int64, referralsDelta int, balanceDelta decimal.Decimal) (*repo.StatChange, error) {
	unlock := l.locks.Lock(partnerID)
	change, err := l.store.ApplyPartnerDelta(ctx, partnerID, referralsDelta, balanceDelta)
	unlock()
	return l.finish(ctx, "apply_delta", partnerID, change, err)
}

// SetAbsolute replaces referrals and balance.
func (l *Ledger) SetAbsolute(ctx context.Context, partnerID int64, referrals int, balance decimal.Decimal) (*repo.StatChange, error) {
	unlock := l.locks.Lock(partnerID)
	change, err := l.store.SetPartnerAbsolute(ctx, partnerID, referrals, balance)
	unlock()
	return l.finish(ctx, "set_absolute", partnerID, change, err)
}

func (l *Ledger) finish(ctx context.Context, op string, partnerID int64, change *repo.StatChange, err error) (*repo.StatChange, error) {
	if l.metrics != nil {
		l.metrics.LedgerMutations.WithLabelValues(op, metrics.Status(err)).Inc()
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, ErrNegativeReferrals) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", strings.ReplaceAll(op, "_", " "), err)
	}

	l.logger.Info("partner stats changed", "op", op, "partner_id", partnerID,
		"referrals_before", change.Before.Referrals, "referrals_after", change.After.Referrals,
		"balance_before", change.Before.Balance.String(), "balance_after", change.After.Balance.String())

	if msg, ok := ChangeNotice(change); ok {
		l.notifier.NotifyPartner(ctx, partnerID, chat.Text(msg))
	}
	return change, nil
}

// ChangeNotice renders the partner-facing message for a stats change. It
// reports false when neither field changed.
func ChangeNotice(change *repo.StatChange) (string, bool) {
	refDelta := change.After.Referrals - change.Before.Referrals
	balDelta := change.After.Balance.Sub(change.Before.Balance)
	if refDelta == 0 && balDelta.IsZero() {
		return "", false
	}

	var b strings.Builder
	b.WriteString("📈 Your partner statistics have been updated.\n\n")
	if refDelta != 0 {
		fmt.Fprintf(&b, "Referrals: %d → %d (%+d)\n", change.Before.Referrals, change.After.Referrals, refDelta)
	}
	if !balDelta.IsZero() {
		sign := "+"
		if balDelta.IsNegative() {
			sign = "-"
		}
		fmt.Fprintf(&b, "Balance: %s → %s (%s%s)\n", chat.Money(change.Before.Balance), chat.Money(change.After.Balance), sign, chat.Money(balDelta.Abs()))
	}
	return strings.TrimSpace(b.String()), true
}
