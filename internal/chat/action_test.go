package chat

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPayloadRoundTrip(t *testing.T) {
	cases := []Action{
		{Kind: KindStartTest},
		{Kind: KindAddReferral, Arg: 123456789},
		{Kind: KindCompleteWithdrawal, Arg: 42},
		{Kind: KindRejectWithdrawal, Arg: 7},
		{Kind: KindBackToCooperation},
		{Kind: KindCancelReject},
	}
	for _, want := range cases {
		got := Decode(Payload(want.Kind, want.Arg))
		if got.Kind != want.Kind || got.Arg != want.Arg {
			t.Fatalf("payload %q decoded to %+v", Payload(want.Kind, want.Arg), got)
		}
	}
}

func TestAnswerPayloadCarriesQuestion(t *testing.T) {
	got := Decode(AnswerPayload(4, 2))
	if got.Kind != KindAnswer || got.Question != 4 || got.Arg != 2 {
		t.Fatalf("answer payload decoded to %+v", got)
	}
	if got := DecodeText("/" + AnswerPayload(1, 0)); got.Kind != KindAnswer || got.Question != 1 || got.Arg != 0 {
		t.Fatalf("typed answer payload decoded to %+v", got)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	for _, payload := range []string{"", "add_ref_", "add_ref_x", "complete_withdrawal_-1", "start_test_5", "nope",
		"answer", "answer_1", "answer_0_1", "answer_2_-1", "answer_x_1", "answer_1_"} {
		if got := Decode(payload); got.Kind != KindUnknown {
			t.Fatalf("payload %q decoded to %+v", payload, got)
		}
	}
}

func TestDecodeText(t *testing.T) {
	if got := DecodeText("/start"); got.Kind != KindStart {
		t.Fatalf("expected start, got %+v", got)
	}
	if got := DecodeText("/admin"); got.Kind != KindAdminPanel {
		t.Fatalf("expected admin panel, got %+v", got)
	}
	if got := DecodeText("/complete_withdrawal_12"); got.Kind != KindCompleteWithdrawal || got.Arg != 12 {
		t.Fatalf("expected typed payload, got %+v", got)
	}
	if got := DecodeText(LabelCabinet); got.Kind != KindCabinet {
		t.Fatalf("expected cabinet, got %+v", got)
	}
	if got := DecodeText("  1800  "); got.Kind != KindText || got.Text != "1800" {
		t.Fatalf("expected free text, got %+v", got)
	}
	if got := DecodeText("skip"); got.Kind != KindText {
		t.Fatalf("bare words must stay free text, got %+v", got)
	}
}

func TestAdminOnly(t *testing.T) {
	if KindWithdraw.AdminOnly() || KindBackToCooperation.AdminOnly() {
		t.Fatal("partner actions flagged as admin only")
	}
	for _, k := range []Kind{KindAdminPanel, KindAddBalance, KindCompleteWithdrawal, KindRejectWithdrawal, KindCancelReject, KindBackToAdmin} {
		if !k.AdminOnly() {
			t.Fatalf("%s should be admin only", k)
		}
	}
}

func TestMoney(t *testing.T) {
	if got := Money(decimal.NewFromInt(1800)); got != "1800 RUB" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Money(decimal.RequireFromString("200.5")); got != "200.50 RUB" {
		t.Fatalf("unexpected %q", got)
	}
}
