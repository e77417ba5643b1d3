package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"partner-bot/internal/chat"
	"partner-bot/internal/keylock"
	"partner-bot/internal/metrics"
	"partner-bot/internal/repo"

	"github.com/shopspring/decimal"
)

// DefaultMinAmount is the smallest payout a partner may request.
var DefaultMinAmount = decimal.NewFromInt(1500)

var (
	// ErrBelowMinimum is returned when the amount or balance is under the payout minimum.
	ErrBelowMinimum = errors.New("amount below minimum withdrawal")
	// ErrInsufficientBalance is returned when the amount exceeds the partner balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for input that is not a positive number.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Store is the subset of the ledger store used by the workflow.
type Store interface {
	GetPartner(ctx context.Context, userID int64) (*repo.Partner, error)
	CreateWithdrawal(ctx context.Context, w repo.NewWithdrawal) (*repo.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id int64) (*repo.Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context) ([]repo.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id int64, at time.Time) (*repo.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id int64, reason string, at time.Time) (*repo.Withdrawal, error)
}

// Notifier delivers best-effort messages.
type Notifier interface {
	NotifyPartner(ctx context.Context, partnerID int64, msg chat.Reply)
	NotifyAdmins(ctx context.Context, msg chat.Reply)
}

// Service runs the pending → completed | rejected workflow.
type Service struct {
	store     Store
	notifier  Notifier
	locks     *keylock.Locker
	minAmount decimal.Decimal
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates the workflow. A zero minAmount falls back to DefaultMinAmount.
func New(store Store, notifier Notifier, locks *keylock.Locker, minAmount decimal.Decimal, logger *slog.Logger, metricRegistry *metrics.Metrics) *Service {
	if !minAmount.IsPositive() {
		minAmount = DefaultMinAmount
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		locks:     locks,
		minAmount: minAmount,
		now:       time.Now,
		logger:    logger.With("component", "withdrawal"),
		metrics:   metricRegistry,
	}
}

// MinAmount returns the payout minimum.
func (s *Service) MinAmount() decimal.Decimal {
	return s.minAmount
}

// Eligible loads the partner and fails with ErrBelowMinimum when the balance
// cannot cover the smallest payout.
func (s *Service) Eligible(ctx context.Context, partnerID int64) (*repo.Partner, error) {
	p, err := s.store.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("load partner: %w", err)
	}
	if p.Balance.LessThan(s.minAmount) {
		return p, ErrBelowMinimum
	}
	return p, nil
}

// Validate checks an amount against the minimum and the current balance.
func (s *Service) Validate(ctx context.Context, partnerID int64, amount decimal.Decimal) error {
	if amount.LessThan(s.minAmount) {
		return ErrBelowMinimum
	}
	p, err := s.store.GetPartner(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("load partner: %w", err)
	}
	if amount.GreaterThan(p.Balance) {
		return ErrInsufficientBalance
	}
	return nil
}

// Request persists a pending withdrawal and alerts the administrators. The
// caller validates the amount beforehand.
func (s *Service) Request(ctx context.Context, req repo.NewWithdrawal) (*repo.Withdrawal, error) {
	if req.Comment != nil && strings.TrimSpace(*req.Comment) == "" {
		req.Comment = nil
	}
	w, err := s.store.CreateWithdrawal(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("request withdrawal: %w", err)
	}
	s.count("requested")
	s.logger.Info("withdrawal requested", "withdrawal_id", w.ID, "partner_id", w.UserID, "amount", w.Amount.String())

	s.notifier.NotifyAdmins(ctx, chat.Reply{
		Text: RequestNotice(w),
		Buttons: [][]chat.Button{
			chat.Row(
				chat.DataButton("✅ Complete", chat.KindCompleteWithdrawal, w.ID),
				chat.DataButton("❌ Reject", chat.KindRejectWithdrawal, w.ID),
			),
		},
	})
	return w, nil
}

// Get returns a withdrawal by id.
func (s *Service) Get(ctx context.Context, id int64) (*repo.Withdrawal, error) {
	return s.store.GetWithdrawal(ctx, id)
}

// Pending lists pending withdrawals, newest first.
func (s *Service) Pending(ctx context.Context) ([]repo.Withdrawal, error) {
	return s.store.ListPendingWithdrawals(ctx)
}

// Complete marks the request completed and debits the partner balance.
// Repeated calls fail with repo.ErrNotPending and never debit twice.
func (s *Service) Complete(ctx context.Context, id int64) (*repo.Withdrawal, error) {
	w, err := s.transition(ctx, id, func(ctx context.Context) (*repo.Withdrawal, error) {
		return s.store.CompleteWithdrawal(ctx, id, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.count("completed")
	s.logger.Info("withdrawal completed", "withdrawal_id", w.ID, "partner_id", w.UserID, "amount", w.Amount.String())
	s.notifier.NotifyPartner(ctx, w.UserID, chat.Text(CompletedNotice(w)))
	return w, nil
}

// Reject marks the request rejected. A non-empty reason is appended to the comment.
func (s *Service) Reject(ctx context.Context, id int64, reason string) (*repo.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	w, err := s.transition(ctx, id, func(ctx context.Context) (*repo.Withdrawal, error) {
		return s.store.RejectWithdrawal(ctx, id, reason, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.count("rejected")
	s.logger.Info("withdrawal rejected", "withdrawal_id", w.ID, "partner_id", w.UserID, "reason", reason)
	s.notifier.NotifyPartner(ctx, w.UserID, chat.Text(RejectedNotice(w, reason)))
	return w, nil
}

func (s *Service) transition(ctx context.Context, id int64, apply func(context.Context) (*repo.Withdrawal, error)) (*repo.Withdrawal, error) {
	current, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}

	unlock := s.locks.Lock(current.UserID)
	defer unlock()

	w, err := apply(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrNotPending) {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("withdrawal").Inc()
		}
		return nil, fmt.Errorf("transition withdrawal %d: %w", id, err)
	}
	return w, nil
}

// Digest summarises pending requests for the administrators. It returns
// false when nothing is pending.
func (s *Service) Digest(ctx context.Context) (bool, error) {
	pending, err := s.store.ListPendingWithdrawals(ctx)
	if err != nil {
		return false, fmt.Errorf("list pending withdrawals: %w", err)
	}
	if len(pending) == 0 {
		return false, nil
	}
	total := decimal.Zero
	for _, w := range pending {
		total = total.Add(w.Amount)
	}
	s.notifier.NotifyAdmins(ctx, chat.Reply{
		Text:    fmt.Sprintf("⏳ Pending withdrawal requests: %d\nTotal amount: %s", len(pending), chat.Money(total)),
		Buttons: [][]chat.Button{chat.Row(chat.DataButton("💸 Withdrawal log", chat.KindWithdrawalLog, 0))},
	})
	return true, nil
}

func (s *Service) count(event string) {
	if s.metrics != nil {
		s.metrics.WithdrawalEvents.WithLabelValues(event).Inc()
	}
}

// ParseAmount reads a positive amount, accepting spaces as thousands
// separators and a comma as the decimal separator.
func ParseAmount(text string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(strings.TrimSpace(text))
	cleaned = strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(cleaned), chat.Currency), "₽")
	if cleaned == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || !d.IsPositive() || d.Exponent() < -2 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
