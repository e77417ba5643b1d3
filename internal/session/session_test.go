package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"partner-bot/internal/cache"
)

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	s := New(10, FlowWithdraw, StepAwaitingAmount)
	s.Set("amount", "1800")
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.Set("amount", "mutated")

	got, err := store.Get(ctx, 10)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Get("amount") != "1800" || got.ID != s.ID {
		t.Fatalf("stored session changed through caller copy: %+v", got)
	}

	if err := store.Delete(ctx, 10); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := store.Get(ctx, 10); got != nil {
		t.Fatalf("expected no session after delete, got %+v", got)
	}
}

func TestMemoryStoreSweepsAbandoned(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Put(ctx, New(1, FlowQuiz, StepAwaitingName))
	now = now.Add(2 * time.Minute)
	_ = store.Put(ctx, New(2, FlowPromo, StepAwaitingPromoCode))

	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 session left, got %d", store.Len())
	}

	now = now.Add(2 * time.Minute)
	if got, _ := store.Get(ctx, 2); got != nil {
		t.Fatal("expired session returned by Get")
	}
}

func TestFlowAdminOnly(t *testing.T) {
	if FlowWithdraw.AdminOnly() || FlowQuiz.AdminOnly() || FlowPromo.AdminOnly() {
		t.Fatal("partner flow flagged as admin only")
	}
	if !FlowReject.AdminOnly() || !FlowManualEdit.AdminOnly() || !FlowSearch.AdminOnly() {
		t.Fatal("admin flow not flagged")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := cache.New(cache.Config{Addr: addr, Prefix: "partner-bot-test:"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer client.Close()
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	store := NewRedisStore(client, time.Minute)
	s := New(987654321, FlowManualEdit, StepAwaitingManualBalance)
	s.Set("referrals", "4")
	s.Answers = []int{1, 2}
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("put: %v", err)
	}
	t.Cleanup(func() { _ = store.Delete(ctx, s.PartnerID) })

	got, err := store.Get(ctx, s.PartnerID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.ID != s.ID || got.Step != StepAwaitingManualBalance || got.Get("referrals") != "4" || len(got.Answers) != 2 {
		t.Fatalf("unexpected session %+v", got)
	}
	if n, err := store.Count(ctx); err != nil || n < 1 {
		t.Fatalf("count: %d %v", n, err)
	}

	if err := store.Delete(ctx, s.PartnerID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := store.Get(ctx, s.PartnerID); got != nil {
		t.Fatal("session still present after delete")
	}
}

func TestDecodeFillsFields(t *testing.T) {
	got, err := decode([]byte(`{"id":"6f1c1f7e-3b0a-4c55-9a55-2f4f3c1b7a10","partner_id":5,"flow":"withdraw","step":"awaiting-amount"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PartnerID != 5 || got.Step != StepAwaitingAmount || got.Fields == nil {
		t.Fatalf("unexpected session %+v", got)
	}
	got.Set("amount", "1600")

	if _, err := decode([]byte("{")); err == nil {
		t.Fatal("expected malformed session to fail")
	}
}
