package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"partner-bot/migrations"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"), testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	r, err := New(ctx, dsn, "", testLogger())
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := r.pool.Exec(ctx, `TRUNCATE withdrawal_requests, used_promo_codes, test_results, partners;`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return r
}

func strPtr(s string) *string { return &s }

func mustPartner(t *testing.T, r Repository, id int64, handle string) *Partner {
	t.Helper()
	var username *string
	if handle != "" {
		username = strPtr(handle)
	}
	p, err := r.UpsertPartner(context.Background(), PartnerProfile{UserID: id, Username: username, FullName: fmt.Sprintf("Partner %d", id)})
	if err != nil {
		t.Fatalf("upsert partner %d: %v", id, err)
	}
	return p
}

func runLedgerScenarios(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("UpsertIsIdempotent", func(t *testing.T) { testUpsertIsIdempotent(t, newRepo(t)) })
	t.Run("PromoCodeUniqueness", func(t *testing.T) { testPromoCodeUniqueness(t, newRepo(t)) })
	t.Run("ConcurrentPromoCode", func(t *testing.T) { testConcurrentPromoCode(t, newRepo(t)) })
	t.Run("CompleteDebitsOnce", func(t *testing.T) { testCompleteDebitsOnce(t, newRepo(t)) })
	t.Run("RejectAppendsReason", func(t *testing.T) { testRejectAppendsReason(t, newRepo(t)) })
	t.Run("SearchPartners", func(t *testing.T) { testSearchPartners(t, newRepo(t)) })
	t.Run("NegativeReferrals", func(t *testing.T) { testNegativeReferrals(t, newRepo(t)) })
	t.Run("TestResultsHistory", func(t *testing.T) { testResultsHistory(t, newRepo(t)) })
}

func TestSQLiteLedger(t *testing.T) {
	runLedgerScenarios(t, func(t *testing.T) Repository { return newTestSQLite(t) })
}

func TestPostgresLedger(t *testing.T) {
	runLedgerScenarios(t, func(t *testing.T) Repository { return newTestPostgres(t) })
}

func testUpsertIsIdempotent(t *testing.T, r Repository) {
	ctx := context.Background()
	first := mustPartner(t, r, 101, "alice")
	if first.IsActive || first.Referrals != 0 || !first.Balance.IsZero() {
		t.Fatalf("unexpected fresh partner: %+v", first)
	}

	if _, err := r.ApplyPartnerDelta(ctx, 101, 2, decimal.NewFromInt(700)); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	again, err := r.UpsertPartner(ctx, PartnerProfile{UserID: 101, Username: strPtr("other"), FullName: "Renamed"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if again.Referrals != 2 || !again.Balance.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("repeat upsert reset ledger: %+v", again)
	}
	if again.FullName != first.FullName {
		t.Fatalf("repeat upsert changed name to %q", again.FullName)
	}

	if _, err := r.GetPartner(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testPromoCodeUniqueness(t *testing.T, r Repository) {
	ctx := context.Background()
	mustPartner(t, r, 201, "")
	mustPartner(t, r, 202, "")

	p, err := r.ReserveAndAssignPromoCode(ctx, 201, "LEX2024")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !p.IsActive || p.PromoCode == nil || *p.PromoCode != "LEX2024" {
		t.Fatalf("partner not activated: %+v", p)
	}

	if _, err := r.ReserveAndAssignPromoCode(ctx, 202, "LEX2024"); !errors.Is(err, ErrPromoCodeTaken) {
		t.Fatalf("expected ErrPromoCodeTaken, got %v", err)
	}
	other, err := r.GetPartner(ctx, 202)
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if other.IsActive || other.PromoCode != nil {
		t.Fatalf("rejected registration left partial state: %+v", other)
	}

	if _, err := r.ReserveAndAssignPromoCode(ctx, 201, "SECOND"); !errors.Is(err, ErrAlreadyHasCode) {
		t.Fatalf("expected ErrAlreadyHasCode, got %v", err)
	}
	// The refused second code must not stay reserved.
	if _, err := r.ReserveAndAssignPromoCode(ctx, 202, "SECOND"); err != nil {
		t.Fatalf("SECOND should still be free: %v", err)
	}
}

func testConcurrentPromoCode(t *testing.T, r Repository) {
	ctx := context.Background()
	const n = 8
	for i := 0; i < n; i++ {
		mustPartner(t, r, int64(300+i), "")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, taken := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := r.ReserveAndAssignPromoCode(ctx, id, "RACE")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrPromoCodeTaken):
				taken++
			default:
				t.Errorf("unexpected error for %d: %v", id, err)
			}
		}(int64(300 + i))
	}
	wg.Wait()

	if succeeded != 1 || taken != n-1 {
		t.Fatalf("expected exactly one winner, got %d succeeded and %d taken", succeeded, taken)
	}
}

func testCompleteDebitsOnce(t *testing.T, r Repository) {
	ctx := context.Background()
	mustPartner(t, r, 401, "bob")
	if _, err := r.SetPartnerAbsolute(ctx, 401, 3, decimal.NewFromInt(2000)); err != nil {
		t.Fatalf("set stats: %v", err)
	}

	w, err := r.CreateWithdrawal(ctx, NewWithdrawal{UserID: 401, Amount: decimal.NewFromInt(1800), Requisites: "4111 1111"})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if w.ID == 0 || w.Status != StatusPending || w.ProcessedAt != nil {
		t.Fatalf("unexpected new withdrawal: %+v", w)
	}
	if w.Username == nil || *w.Username != "bob" {
		t.Fatalf("withdrawal not joined with partner: %+v", w)
	}

	pending, err := r.ListPendingWithdrawals(ctx)
	if err != nil || len(pending) != 1 || pending[0].ID != w.ID {
		t.Fatalf("pending list = %+v, err %v", pending, err)
	}

	done, err := r.CompleteWithdrawal(ctx, w.ID, time.Now())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.ProcessedAt == nil {
		t.Fatalf("unexpected completed withdrawal: %+v", done)
	}

	if _, err := r.CompleteWithdrawal(ctx, w.ID, time.Now()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on repeat, got %v", err)
	}
	if _, err := r.RejectWithdrawal(ctx, w.ID, "late", time.Now()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on reject after complete, got %v", err)
	}
	if _, err := r.CompleteWithdrawal(ctx, 987654, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p, err := r.GetPartner(ctx, 401)
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if !p.Balance.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected balance 200, got %s", p.Balance)
	}

	pending, err = r.ListPendingWithdrawals(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending withdrawals, got %+v (err %v)", pending, err)
	}
}

func testRejectAppendsReason(t *testing.T, r Repository) {
	ctx := context.Background()
	mustPartner(t, r, 501, "")
	if _, err := r.SetPartnerAbsolute(ctx, 501, 0, decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("set stats: %v", err)
	}

	w, err := r.CreateWithdrawal(ctx, NewWithdrawal{UserID: 501, Amount: decimal.NewFromInt(1500), Requisites: "IBAN", Comment: strPtr("urgent")})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}

	rejected, err := r.RejectWithdrawal(ctx, w.ID, "invalid requisites", time.Now())
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected || rejected.ProcessedAt == nil {
		t.Fatalf("unexpected rejected withdrawal: %+v", rejected)
	}
	if rejected.Comment == nil || *rejected.Comment != "urgent\n\nRejection reason: invalid requisites" {
		t.Fatalf("unexpected comment: %v", rejected.Comment)
	}

	if _, err := r.CompleteWithdrawal(ctx, w.ID, time.Now()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	p, err := r.GetPartner(ctx, 501)
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if !p.Balance.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("rejection touched balance: %s", p.Balance)
	}
	if _, err := r.RejectWithdrawal(ctx, 424242, "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testSearchPartners(t *testing.T, r Repository) {
	ctx := context.Background()
	mustPartner(t, r, 601234, "carol_ref")
	mustPartner(t, r, 602000, "dave")
	if _, err := r.ReserveAndAssignPromoCode(ctx, 602000, "DAVE50"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	cases := map[string][]int64{
		"1234":  {601234},
		"CAROL": {601234},
		"dave5": {602000},
		"60":    {602000, 601234},
		"%":     nil,
	}
	for term, want := range cases {
		got, err := r.SearchPartners(ctx, term)
		if err != nil {
			t.Fatalf("search %q: %v", term, err)
		}
		if len(got) != len(want) {
			t.Fatalf("search %q returned %d partners, want %d", term, len(got), len(want))
		}
		ids := map[int64]bool{}
		for _, p := range got {
			ids[p.UserID] = true
		}
		for _, id := range want {
			if !ids[id] {
				t.Fatalf("search %q missing partner %d", term, id)
			}
		}
	}
}

func testNegativeReferrals(t *testing.T, r Repository) {
	ctx := context.Background()
	mustPartner(t, r, 701, "")
	if _, err := r.ApplyPartnerDelta(ctx, 701, -1, decimal.Zero); !errors.Is(err, ErrNegativeReferrals) {
		t.Fatalf("expected ErrNegativeReferrals, got %v", err)
	}
	if _, err := r.SetPartnerAbsolute(ctx, 701, -5, decimal.Zero); !errors.Is(err, ErrNegativeReferrals) {
		t.Fatalf("expected ErrNegativeReferrals, got %v", err)
	}
	if _, err := r.ApplyPartnerDelta(ctx, 7777, 1, decimal.Zero); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	change, err := r.ApplyPartnerDelta(ctx, 701, 1, decimal.RequireFromString("500.50"))
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if change.Before.Referrals != 0 || change.After.Referrals != 1 {
		t.Fatalf("unexpected referral change: %+v", change)
	}
	if !change.After.Balance.Equal(decimal.RequireFromString("500.5")) {
		t.Fatalf("unexpected balance after: %s", change.After.Balance)
	}
}

func testResultsHistory(t *testing.T, r Repository) {
	ctx := context.Background()
	mustPartner(t, r, 801, "")
	for _, score := range []int{5, 8} {
		if _, err := r.AppendTestResult(ctx, TestResult{UserID: 801, Score: score, TotalQuestions: 9}); err != nil {
			t.Fatalf("append result: %v", err)
		}
	}
	results, err := r.ListTestResults(ctx, 801)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 2 || results[0].Score != 5 || results[1].Score != 8 || results[1].TotalQuestions != 9 {
		t.Fatalf("unexpected history: %+v", results)
	}
}

func TestRejectionComment(t *testing.T) {
	if got := RejectionComment(nil, "wrong card"); got == nil || *got != "Rejection reason: wrong card" {
		t.Fatalf("unexpected comment for nil: %v", got)
	}
	orig := "keep"
	if got := RejectionComment(&orig, ""); got != &orig {
		t.Fatal("empty reason must keep the comment as is")
	}
	if got := RejectionComment(&orig, "x"); !strings.HasPrefix(*got, "keep\n\n") {
		t.Fatalf("prior comment not preserved: %q", *got)
	}
}
