package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"partner-bot/internal/repo"

	"github.com/shopspring/decimal"
)

func TestPartnersCSVColumnOrder(t *testing.T) {
	handle, code := "anna", "LEX1"
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	data, err := PartnersCSV([]repo.Partner{
		{UserID: 42, Username: &handle, FullName: "Anna, Smith", PromoCode: &code, Referrals: 3, Balance: decimal.NewFromInt(1500), IsActive: true, RegisteredAt: at},
		{UserID: 43, FullName: "Bob", RegisteredAt: at},
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(records))
	}
	want := []string{"42", "anna", "Anna, Smith", "LEX1", "3", "1500.00", "yes", "2026-03-04 05:06:07"}
	for i, v := range want {
		if records[1][i] != v {
			t.Fatalf("column %d (%s) = %q, want %q", i, records[0][i], records[1][i], v)
		}
	}
	if records[2][1] != "" || records[2][3] != "" || records[2][6] != "no" {
		t.Fatalf("unexpected empty-field row %v", records[2])
	}
}

func TestWithdrawalsCSVColumnOrder(t *testing.T) {
	comment := "urgent"
	data, err := WithdrawalsCSV([]repo.Withdrawal{{
		ID: 7, UserID: 42, FullName: "Anna", Amount: decimal.RequireFromString("1800.5"),
		Requisites: "4111", Comment: &comment, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := []string{"7", "42", "", "Anna", "1800.50", "4111", "urgent", "2026-01-02 03:04:05"}
	for i, v := range want {
		if records[1][i] != v {
			t.Fatalf("column %d = %q, want %q", i, records[1][i], v)
		}
	}
	if records[0][0] != "request_id" || records[0][7] != "created_at" {
		t.Fatalf("unexpected header %v", records[0])
	}
}

func TestFileName(t *testing.T) {
	got := FileName("partners", time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC))
	if got != "partners_20261016_093000.csv" {
		t.Fatalf("unexpected %q", got)
	}
}
