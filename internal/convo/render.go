package convo

import (
	"fmt"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/quiz"
	"partner-bot/internal/repo"
)

const dateLayout = "02.01.2006 15:04"

func (e *Engine) mainMenu(actorID int64) [][]string {
	menu := [][]string{
		{chat.LabelCabinet, chat.LabelCooperation},
		{chat.LabelSupport},
	}
	if e.isAdmin(actorID) {
		menu = append(menu, []string{chat.LabelAdminPanel})
	}
	return menu
}

func (e *Engine) cabinetButtons() [][]chat.Button {
	return [][]chat.Button{
		chat.Row(chat.DataButton("📊 Statistics", chat.KindStats, 0), chat.DataButton("💸 Withdraw", chat.KindWithdraw, 0)),
		chat.Row(chat.DataButton("📄 Starter article", chat.KindArticle, 0), chat.DataButton("📦 Materials", chat.KindMaterials, 0)),
		chat.Row(chat.DataButton("⬅️ Main menu", chat.KindBackToMain, 0)),
	}
}

func lockedReply() chat.Reply {
	return chat.Reply{
		Text: "🔒 This section is available to registered partners only.\n\nPass the test and create a promo code in «Cooperation».",
		Buttons: [][]chat.Button{
			chat.Row(chat.DataButton("🤝 Cooperation", chat.KindCooperation, 0)),
		},
	}
}

func cabinetText(p *repo.Partner) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 Personal cabinet\n\n")
	fmt.Fprintf(&b, "Name: %s\n", p.FullName)
	fmt.Fprintf(&b, "Promo code: %s\n", deref(p.PromoCode))
	fmt.Fprintf(&b, "Referrals: %d\n", p.Referrals)
	fmt.Fprintf(&b, "Balance: %s\n", chat.Money(p.Balance))
	fmt.Fprintf(&b, "Partner since: %s", p.RegisteredAt.Format(dateLayout))
	return b.String()
}

func statsText(p *repo.Partner, results []repo.TestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Statistics\n\n")
	fmt.Fprintf(&b, "Name: %s\nPromo code: %s\n", p.FullName, orNone(p.PromoCode))
	fmt.Fprintf(&b, "Referrals: %d\nBalance: %s\n", p.Referrals, chat.Money(p.Balance))
	fmt.Fprintf(&b, "Registered: %s\n", p.RegisteredAt.Format(dateLayout))
	if len(results) == 0 {
		return strings.TrimSpace(b.String())
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Score*best.TotalQuestions > best.Score*r.TotalQuestions {
			best = r
		}
	}
	fmt.Fprintf(&b, "\nTest attempts: %d, best score %d/%d", len(results), best.Score, best.TotalQuestions)
	if quiz.Passed(best.Score, best.TotalQuestions) {
		b.WriteString(" ✅")
	}
	return b.String()
}

func questionReply(q quiz.Question, number, total int) chat.Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "❓ Question %d of %d\n\n%s\n", number, total, q.Text)
	rows := make([][]chat.Button, 0, len(q.Options)+1)
	for i, option := range q.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, option)
		rows = append(rows, chat.Row(chat.AnswerButton(fmt.Sprintf("%d. %s", i+1, option), number, i)))
	}
	rows = append(rows, chat.Row(chat.DataButton("⬅️ Cancel", chat.KindBackToCooperation, 0)))
	return chat.Reply{Text: b.String(), Buttons: rows}
}

func resultReply(name string, res quiz.Result) chat.Reply {
	if res.Passed {
		return chat.Reply{
			Text: fmt.Sprintf("🎉 %s, you passed the test!\n\nCorrect answers: %d of %d (%.0f%%).\n\nNow create your promo code.",
				name, res.Correct, res.Total, res.Percent),
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("🏷 Create promo code", chat.KindCreatePromo, 0))},
		}
	}
	return chat.Reply{
		Text: fmt.Sprintf("😔 %s, the test is not passed.\n\nCorrect answers: %d of %d (%.0f%%), you need at least %d%%.\n\nYou can try again.",
			name, res.Correct, res.Total, res.Percent, quiz.PassPercent),
		Buttons: [][]chat.Button{
			chat.Row(chat.DataButton("🔄 Retake the test", chat.KindStartTest, 0)),
			chat.Row(chat.DataButton("⬅️ Main menu", chat.KindBackToMain, 0)),
		},
	}
}

func partnerLine(p repo.Partner) string {
	status := "⏳"
	if p.IsActive {
		status = "✅"
	}
	return fmt.Sprintf("%s %s (%s) · id %d · %s · refs %d · %s",
		status, p.FullName, handle(p.Username), p.UserID, orNone(p.PromoCode), p.Referrals, chat.Money(p.Balance))
}

func partnerCard(p *repo.Partner) string {
	status := "not registered"
	if p.IsActive {
		status = "active"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s (%s)\n\n", p.FullName, handle(p.Username))
	fmt.Fprintf(&b, "ID: %d\nStatus: %s\nPromo code: %s\n", p.UserID, status, orNone(p.PromoCode))
	fmt.Fprintf(&b, "Referrals: %d\nBalance: %s\n", p.Referrals, chat.Money(p.Balance))
	fmt.Fprintf(&b, "Registered: %s", p.RegisteredAt.Format(dateLayout))
	return b.String()
}

func partnerButtons(id int64, credit string) [][]chat.Button {
	return [][]chat.Button{
		chat.Row(
			chat.DataButton("➕ Referral", chat.KindAddReferral, id),
			chat.DataButton("➕ "+credit, chat.KindAddBalance, id),
		),
		chat.Row(chat.DataButton("✏️ Edit manually", chat.KindEditManual, id)),
		chat.Row(chat.DataButton("⬅️ Admin panel", chat.KindBackToAdmin, 0)),
	}
}

func withdrawalEntry(w repo.Withdrawal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d · %s · %s\n", w.ID, w.CreatedAt.Format(dateLayout), chat.Money(w.Amount))
	fmt.Fprintf(&b, "%s (%s), id %d\nRequisites: %s", w.FullName, handle(w.Username), w.UserID, w.Requisites)
	if w.Comment != nil && *w.Comment != "" {
		fmt.Fprintf(&b, "\nComment: %s", *w.Comment)
	}
	return b.String()
}

func handle(username *string) string {
	if username == nil || *username == "" {
		return "no username"
	}
	return "@" + *username
}

func orNone(s *string) string {
	if s == nil || *s == "" {
		return "none"
	}
	return *s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
