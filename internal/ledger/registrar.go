package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"partner-bot/internal/chat"
	"partner-bot/internal/keylock"
	"partner-bot/internal/metrics"
	"partner-bot/internal/repo"
)

// MaxPromoCodeLength bounds the length of a promo code in characters.
const MaxPromoCodeLength = 32

// ErrInvalidPromoCode is returned for codes that are empty, too long or not alphanumeric.
var ErrInvalidPromoCode = errors.New("promo code must contain only letters and digits")

// Registrar assigns promo codes and activates partners.
type Registrar struct {
	store    Store
	notifier Notifier
	locks    *keylock.Locker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistrar creates a Registrar sharing the per-partner locks with the Ledger.
func NewRegistrar(store Store, notifier Notifier, locks *keylock.Locker, logger *slog.Logger, metricRegistry *metrics.Metrics) *Registrar {
	return &Registrar{
		store:    store,
		notifier: notifier,
		locks:    locks,
		logger:   logger.With("component", "registrar"),
		metrics:  metricRegistry,
	}
}

// ValidatePromoCode trims the code and checks it is alphanumeric.
func ValidatePromoCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" || utf8.RuneCountInString(code) > MaxPromoCodeLength {
		return "", ErrInvalidPromoCode
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", ErrInvalidPromoCode
		}
	}
	return code, nil
}

// Register reserves code for the partner and activates the account. It fails
// with repo.ErrAlreadyHasCode when the partner owns a code and with
// repo.ErrPromoCodeTaken when another partner owns this one.
func (r *Registrar) Register(ctx context.Context, partnerID int64, code string) (*repo.Partner, error) {
	code, err := ValidatePromoCode(code)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(partnerID)
	p, err := r.register(ctx, partnerID, code)
	unlock()

	if r.metrics != nil {
		r.metrics.LedgerMutations.WithLabelValues("register_promo", registerStatus(err)).Inc()
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("promo code registered", "partner_id", partnerID, "promo_code", code)
	r.notifier.NotifyAdmins(ctx, chat.Text(activationNotice(p)))
	return p, nil
}

func (r *Registrar) register(ctx context.Context, partnerID int64, code string) (*repo.Partner, error) {
	current, err := r.store.GetPartner(ctx, partnerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load partner: %w", err)
	}
	if current.PromoCode != nil {
		return nil, repo.ErrAlreadyHasCode
	}

	p, err := r.store.ReserveAndAssignPromoCode(ctx, partnerID, code)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrPromoCodeTaken), errors.Is(err, repo.ErrAlreadyHasCode), errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
		return nil, fmt.Errorf("register promo code: %w", err)
	}
	return p, nil
}

func registerStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, repo.ErrPromoCodeTaken):
		return "taken"
	case errors.Is(err, repo.ErrAlreadyHasCode):
		return "has_code"
	default:
		return "error"
	}
}

func activationNotice(p *repo.Partner) string {
	handle := "no username"
	if p.Username != nil && *p.Username != "" {
		handle = "@" + *p.Username
	}
	code := ""
	if p.PromoCode != nil {
		code = *p.PromoCode
	}
	return fmt.Sprintf("🆕 New active partner\n\nName: %s\nUsername: %s\nID: %d\nPromo code: %s", p.FullName, handle, p.UserID, code)
}
