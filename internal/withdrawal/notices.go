package withdrawal

import (
	"fmt"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/repo"
)

// RequestNotice is the administrator alert for a new request.
func RequestNotice(w *repo.Withdrawal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💸 New withdrawal request #%d\n\n", w.ID)
	fmt.Fprintf(&b, "Partner: %s (%s)\nID: %d\n", w.FullName, handle(w.Username), w.UserID)
	fmt.Fprintf(&b, "Amount: %s\nRequisites: %s\n", chat.Money(w.Amount), w.Requisites)
	if w.Comment != nil && *w.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", *w.Comment)
	}
	return strings.TrimSpace(b.String())
}

// CompletedNotice is the partner message for a completed request.
func CompletedNotice(w *repo.Withdrawal) string {
	return fmt.Sprintf("✅ Your withdrawal request #%d has been completed.\n\nAmount: %s\nRequisites: %s",
		w.ID, chat.Money(w.Amount), w.Requisites)
}

// RejectedNotice is the partner message for a rejected request.
func RejectedNotice(w *repo.Withdrawal, reason string) string {
	if reason == "" {
		reason = "not specified"
	}
	return fmt.Sprintf("❌ Your withdrawal request #%d has been rejected.\n\nAmount: %s\nRequisites: %s\nReason: %s\n\nThe amount stays on your balance.",
		w.ID, chat.Money(w.Amount), w.Requisites, reason)
}

func handle(username *string) string {
	if username == nil || *username == "" {
		return "no username"
	}
	return "@" + *username
}
