package convo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/export"
	"partner-bot/internal/repo"
	"partner-bot/internal/session"

	"github.com/shopspring/decimal"
)

const (
	tablePageSize  = 10
	searchPageSize = 5
	logPageSize    = 5
)

func adminBack() []chat.Button {
	return chat.Row(chat.DataButton("⬅️ Admin panel", chat.KindBackToAdmin, 0))
}

func (e *Engine) adminPanel(ctx context.Context, upd chat.Update) error {
	if err := e.clearSession(ctx, upd.ActorID); err != nil {
		return err
	}
	partners, err := e.store.ListPartners(ctx)
	if err != nil {
		return err
	}
	pending, err := e.withdrawals.Pending(ctx)
	if err != nil {
		return err
	}

	active := 0
	for _, p := range partners {
		if p.IsActive {
			active++
		}
	}
	total := decimal.Zero
	for _, w := range pending {
		total = total.Add(w.Amount)
	}

	e.send(ctx, upd.ChatID, chat.Reply{
		Text: fmt.Sprintf("⚙️ Admin panel\n\nPartners: %d (active %d)\nPending withdrawals: %d for %s",
			len(partners), active, len(pending), chat.Money(total)),
		Buttons: [][]chat.Button{
			chat.Row(chat.DataButton("📋 Partners", chat.KindPartnersTable, 0), chat.DataButton("🔎 Search", chat.KindSearchPartner, 0)),
			chat.Row(chat.DataButton("💸 Withdrawal log", chat.KindWithdrawalLog, 0), chat.DataButton("📤 Export", chat.KindExportData, 0)),
		},
	})
	return nil
}

func (e *Engine) partnersTable(ctx context.Context, upd chat.Update) error {
	partners, err := e.store.ListPartners(ctx)
	if err != nil {
		return err
	}
	if len(partners) == 0 {
		e.send(ctx, upd.ChatID, chat.Reply{Text: "📋 No partners yet.", Buttons: [][]chat.Button{adminBack()}})
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Partners: %d\n", len(partners))
	shown := partners
	if len(shown) > tablePageSize {
		shown = shown[:tablePageSize]
	}
	for _, p := range shown {
		b.WriteString("\n" + partnerLine(p))
	}
	if rest := len(partners) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n\n…and %d more. Use search or export to see everyone.", rest)
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text: b.String(),
		Buttons: [][]chat.Button{
			chat.Row(chat.DataButton("🔎 Search", chat.KindSearchPartner, 0)),
			adminBack(),
		},
	})
	return nil
}

func (e *Engine) startSearch(ctx context.Context, upd chat.Update) error {
	return e.begin(ctx, upd, session.New(upd.ActorID, session.FlowSearch, session.StepAwaitingSearch))
}

func (e *Engine) finishSearch(ctx context.Context, upd chat.Update, sess *session.Session, term string) error {
	found, err := e.store.SearchPartners(ctx, term)
	if err != nil {
		return err
	}
	if err := e.endSession(ctx, sess, "searched"); err != nil {
		return err
	}

	switch len(found) {
	case 0:
		e.send(ctx, upd.ChatID, chat.Reply{
			Text: fmt.Sprintf("🔍 Nobody matches %q.", term),
			Buttons: [][]chat.Button{
				chat.Row(chat.DataButton("🔎 Search again", chat.KindSearchPartner, 0)),
				adminBack(),
			},
		})
	case 1:
		e.send(ctx, upd.ChatID, chat.Reply{
			Text:    partnerCard(&found[0]),
			Buttons: partnerButtons(found[0].UserID, chat.Money(e.cfg.QuickCredit)),
		})
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "🔎 Found %d partners:\n", len(found))
		shown := found
		if len(shown) > searchPageSize {
			shown = shown[:searchPageSize]
		}
		rows := make([][]chat.Button, 0, len(shown)+1)
		for _, p := range shown {
			b.WriteString("\n" + partnerLine(p))
			rows = append(rows, chat.Row(chat.DataButton("✏️ "+p.FullName, chat.KindEditManual, p.UserID)))
		}
		if rest := len(found) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "\n\n…and %d more, refine the query.", rest)
		}
		rows = append(rows, adminBack())
		e.send(ctx, upd.ChatID, chat.Reply{Text: b.String(), Buttons: rows})
	}
	return nil
}

func (e *Engine) quickCredit(ctx context.Context, upd chat.Update, partnerID int64, referrals int, balance decimal.Decimal) error {
	change, err := e.ledger.ApplyDelta(ctx, partnerID, referrals, balance)
	if err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    "✅ Updated.\n\n" + partnerCard(&change.Partner),
		Buttons: partnerButtons(partnerID, chat.Money(e.cfg.QuickCredit)),
	})
	return nil
}

func (e *Engine) startManualEdit(ctx context.Context, upd chat.Update, partnerID int64) error {
	if _, err := e.store.GetPartner(ctx, partnerID); err != nil {
		return err
	}
	sess := session.New(upd.ActorID, session.FlowManualEdit, session.StepAwaitingManualReferrals)
	sess.Set("partner_id", strconv.FormatInt(partnerID, 10))
	return e.begin(ctx, upd, sess)
}

func (e *Engine) finishManualEdit(ctx context.Context, upd chat.Update, sess *session.Session, value string) error {
	partnerID, err := strconv.ParseInt(sess.Get("partner_id"), 10, 64)
	if err != nil {
		_ = e.endSession(ctx, sess, "corrupt")
		return fmt.Errorf("session partner id: %w", err)
	}
	referrals, err := strconv.Atoi(sess.Get("referrals"))
	if err != nil {
		_ = e.endSession(ctx, sess, "corrupt")
		return fmt.Errorf("session referrals: %w", err)
	}
	balance, err := decimal.NewFromString(value)
	if err != nil {
		_ = e.endSession(ctx, sess, "corrupt")
		return fmt.Errorf("session balance: %w", err)
	}

	change, err := e.ledger.SetAbsolute(ctx, partnerID, referrals, balance)
	if err != nil {
		return err
	}
	if err := e.endSession(ctx, sess, "applied"); err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    "✅ Saved.\n\n" + partnerCard(&change.Partner),
		Buttons: partnerButtons(partnerID, chat.Money(e.cfg.QuickCredit)),
	})
	return nil
}

func (e *Engine) withdrawalLog(ctx context.Context, upd chat.Update) error {
	pending, err := e.withdrawals.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		e.send(ctx, upd.ChatID, chat.Reply{Text: "💸 No pending withdrawal requests.", Buttons: [][]chat.Button{adminBack()}})
		return nil
	}

	shown := pending
	if len(shown) > logPageSize {
		shown = shown[:logPageSize]
	}
	for _, w := range shown {
		e.send(ctx, upd.ChatID, chat.Reply{
			Text: withdrawalEntry(w),
			Buttons: [][]chat.Button{chat.Row(
				chat.DataButton("✅ Complete", chat.KindCompleteWithdrawal, w.ID),
				chat.DataButton("❌ Reject", chat.KindRejectWithdrawal, w.ID),
			)},
		})
	}
	summary := fmt.Sprintf("💸 Pending requests: %d", len(pending))
	if rest := len(pending) - len(shown); rest > 0 {
		summary += fmt.Sprintf(", %d more after these are processed", rest)
	}
	e.send(ctx, upd.ChatID, chat.Reply{Text: summary + ".", Buttons: [][]chat.Button{adminBack()}})
	return nil
}

func (e *Engine) exportData(ctx context.Context, upd chat.Update) error {
	partners, err := e.store.ListPartners(ctx)
	if err != nil {
		return err
	}
	pending, err := e.withdrawals.Pending(ctx)
	if err != nil {
		return err
	}
	partnersFile, err := export.PartnersCSV(partners)
	if err != nil {
		return err
	}
	withdrawalsFile, err := export.WithdrawalsCSV(pending)
	if err != nil {
		return err
	}

	now := e.now()
	docs := []chat.Document{
		{Name: export.FileName("partners", now), Content: partnersFile, Caption: fmt.Sprintf("📋 Partners: %d", len(partners))},
		{Name: export.FileName("withdrawals", now), Content: withdrawalsFile, Caption: fmt.Sprintf("💸 Pending withdrawals: %d", len(pending))},
	}
	for _, doc := range docs {
		if err := e.messenger.SendDocument(ctx, upd.ChatID, doc); err != nil {
			return fmt.Errorf("send %s: %w", doc.Name, err)
		}
	}
	e.logger.Info("data exported", "actor_id", upd.ActorID, "partners", len(partners), "withdrawals", len(pending))
	return nil
}

func (e *Engine) completeWithdrawal(ctx context.Context, upd chat.Update, id int64) error {
	w, err := e.withdrawals.Complete(ctx, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		e.send(ctx, upd.ChatID, chat.Text(fmt.Sprintf("🔍 Withdrawal request #%d not found.", id)))
		return nil
	case errors.Is(err, repo.ErrNotPending):
		e.send(ctx, upd.ChatID, e.alreadyProcessed(ctx, id))
		return nil
	case err != nil:
		return err
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    fmt.Sprintf("✅ Request #%d completed. %s debited from %s.", w.ID, chat.Money(w.Amount), w.FullName),
		Buttons: [][]chat.Button{chat.Row(chat.DataButton("💸 Withdrawal log", chat.KindWithdrawalLog, 0)), adminBack()},
	})
	return nil
}

func (e *Engine) startReject(ctx context.Context, upd chat.Update, id int64) error {
	w, err := e.withdrawals.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		e.send(ctx, upd.ChatID, chat.Text(fmt.Sprintf("🔍 Withdrawal request #%d not found.", id)))
		return nil
	}
	if err != nil {
		return err
	}
	if w.Status != repo.StatusPending {
		e.send(ctx, upd.ChatID, e.alreadyProcessed(ctx, id))
		return nil
	}
	sess := session.New(upd.ActorID, session.FlowReject, session.StepAwaitingReason)
	sess.Set("withdrawal_id", strconv.FormatInt(id, 10))
	return e.begin(ctx, upd, sess)
}

func (e *Engine) finishReject(ctx context.Context, upd chat.Update, sess *session.Session, reason string) error {
	id, err := strconv.ParseInt(sess.Get("withdrawal_id"), 10, 64)
	if err != nil {
		_ = e.endSession(ctx, sess, "corrupt")
		return fmt.Errorf("session withdrawal id: %w", err)
	}
	w, err := e.withdrawals.Reject(ctx, id, reason)
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrNotPending) {
		if err := e.endSession(ctx, sess, "already_processed"); err != nil {
			return err
		}
		e.send(ctx, upd.ChatID, e.alreadyProcessed(ctx, id))
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.endSession(ctx, sess, "rejected"); err != nil {
		return err
	}

	text := fmt.Sprintf("❌ Request #%d rejected. The balance of %s is unchanged.", w.ID, w.FullName)
	if reason != "" {
		text += "\nReason: " + reason
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    text,
		Buttons: [][]chat.Button{chat.Row(chat.DataButton("💸 Withdrawal log", chat.KindWithdrawalLog, 0)), adminBack()},
	})
	return nil
}

func (e *Engine) cancelReject(ctx context.Context, upd chat.Update) error {
	if err := e.clearSession(ctx, upd.ActorID); err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    "↩️ Rejection cancelled, the request stays pending.",
		Buttons: [][]chat.Button{chat.Row(chat.DataButton("💸 Withdrawal log", chat.KindWithdrawalLog, 0)), adminBack()},
	})
	return nil
}

func (e *Engine) alreadyProcessed(ctx context.Context, id int64) chat.Reply {
	status := "processed"
	if w, err := e.withdrawals.Get(ctx, id); err == nil {
		status = w.Status
	}
	return chat.Reply{
		Text:    fmt.Sprintf("ℹ️ Withdrawal request #%d is already %s.", id, status),
		Buttons: [][]chat.Button{adminBack()},
	}
}
