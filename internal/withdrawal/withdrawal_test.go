package withdrawal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"partner-bot/internal/chat"
	"partner-bot/internal/keylock"
	"partner-bot/internal/repo"
	"partner-bot/migrations"

	"github.com/shopspring/decimal"
)

type recordingNotifier struct {
	mu       sync.Mutex
	partners map[int64][]chat.Reply
	admins   []chat.Reply
}

func (n *recordingNotifier) NotifyPartner(_ context.Context, id int64, msg chat.Reply) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partners[id] = append(n.partners[id], msg)
}

func (n *recordingNotifier) NotifyAdmins(_ context.Context, msg chat.Reply) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admins = append(n.admins, msg)
}

type fixture struct {
	store    *repo.SQLiteRepository
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	notifier := &recordingNotifier{partners: map[int64][]chat.Reply{}}
	return &fixture{
		store:    store,
		notifier: notifier,
		svc:      New(store, notifier, keylock.New(), decimal.Zero, logger, nil),
	}
}

func (f *fixture) partnerWithBalance(t *testing.T, id int64, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.UpsertPartner(ctx, repo.PartnerProfile{UserID: id, FullName: "Partner"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := f.store.SetPartnerAbsolute(ctx, id, 0, decimal.NewFromInt(balance)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	p, err := f.store.GetPartner(context.Background(), id)
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	return p.Balance
}

func TestRequestAndCompleteDebitsBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.partnerWithBalance(t, 1, 2000)

	amount := decimal.NewFromInt(1800)
	if err := f.svc.Validate(ctx, 1, amount); err != nil {
		t.Fatalf("validate: %v", err)
	}
	w, err := f.svc.Request(ctx, repo.NewWithdrawal{UserID: 1, Amount: amount, Requisites: "4276 0000 0000 0000"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.Status != repo.StatusPending {
		t.Fatalf("expected pending, got %s", w.Status)
	}
	if len(f.notifier.admins) != 1 {
		t.Fatalf("admins not alerted: %+v", f.notifier.admins)
	}
	alert := f.notifier.admins[0]
	if !strings.Contains(alert.Text, "#") || len(alert.Buttons) != 1 || alert.Buttons[0][0].Data != chat.Payload(chat.KindCompleteWithdrawal, w.ID) {
		t.Fatalf("alert does not reference the new id: %+v", alert)
	}

	done, err := f.svc.Complete(ctx, w.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != repo.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if got := f.balance(t, 1); !got.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected balance 200, got %s", got)
	}
	notices := f.notifier.partners[1]
	if len(notices) != 1 || !strings.Contains(notices[0].Text, "1800") || !strings.Contains(notices[0].Text, "4276 0000 0000 0000") {
		t.Fatalf("unexpected completion notice: %+v", notices)
	}

	if _, err := f.svc.Complete(ctx, w.ID); !errors.Is(err, repo.ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if got := f.balance(t, 1); !got.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("second completion debited again: %s", got)
	}
	if len(f.notifier.partners[1]) != 1 {
		t.Fatal("second completion notified the partner")
	}
}

func TestValidateRejectsBeforeCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.partnerWithBalance(t, 2, 1000)

	if _, err := f.svc.Eligible(ctx, 2); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if err := f.svc.Validate(ctx, 2, decimal.NewFromInt(1500)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := f.svc.Validate(ctx, 2, decimal.NewFromInt(900)); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	pending, err := f.svc.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no requests, got %+v (%v)", pending, err)
	}
}

func TestRejectKeepsBalanceAndAppendsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.partnerWithBalance(t, 3, 5000)

	comment := "please hurry"
	w, err := f.svc.Request(ctx, repo.NewWithdrawal{UserID: 3, Amount: decimal.NewFromInt(1500), Requisites: "IBAN DE00", Comment: &comment})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	rejected, err := f.svc.Reject(ctx, w.ID, "invalid requisites")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != repo.StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.Comment == nil || !strings.HasPrefix(*rejected.Comment, "please hurry") || !strings.HasSuffix(*rejected.Comment, "invalid requisites") {
		t.Fatalf("unexpected comment %v", rejected.Comment)
	}
	if got := f.balance(t, 3); !got.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("rejection changed balance: %s", got)
	}
	notices := f.notifier.partners[3]
	if len(notices) != 1 || !strings.Contains(notices[0].Text, "invalid requisites") {
		t.Fatalf("unexpected rejection notice %+v", notices)
	}

	if _, err := f.svc.Complete(ctx, w.ID); !errors.Is(err, repo.ErrNotPending) {
		t.Fatalf("completing a rejected request: %v", err)
	}
	if _, err := f.svc.Reject(ctx, 9999, ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCompleteDebitsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.partnerWithBalance(t, 4, 3000)
	w, err := f.svc.Request(ctx, repo.NewWithdrawal{UserID: 4, Amount: decimal.NewFromInt(2000), Requisites: "card"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Complete(ctx, w.ID); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Fatalf("expected one successful completion, got %d", ok)
	}
	if got := f.balance(t, 4); !got.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected balance 1000, got %s", got)
	}
}

func TestDigest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if sent, err := f.svc.Digest(ctx); err != nil || sent {
		t.Fatalf("empty digest: sent=%v err=%v", sent, err)
	}

	f.partnerWithBalance(t, 5, 10000)
	for _, a := range []int64{1500, 2500} {
		if _, err := f.svc.Request(ctx, repo.NewWithdrawal{UserID: 5, Amount: decimal.NewFromInt(a), Requisites: "card"}); err != nil {
			t.Fatalf("request: %v", err)
		}
	}
	f.notifier.admins = nil

	sent, err := f.svc.Digest(ctx)
	if err != nil || !sent {
		t.Fatalf("digest: sent=%v err=%v", sent, err)
	}
	if len(f.notifier.admins) != 1 || !strings.Contains(f.notifier.admins[0].Text, "4000 RUB") || !strings.Contains(f.notifier.admins[0].Text, ": 2") {
		t.Fatalf("unexpected digest %+v", f.notifier.admins)
	}
}

func TestParseAmount(t *testing.T) {
	valid := map[string]string{"1500": "1500", "1 800": "1800", "1500,50": "1500.5", "2000 RUB": "2000", "2000₽": "2000"}
	for in, want := range valid {
		got, err := ParseAmount(in)
		if err != nil || !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("ParseAmount(%q) = %s, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "abc", "-100", "0", "10.001"} {
		if _, err := ParseAmount(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("ParseAmount(%q) accepted", in)
		}
	}
}
