package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/quiz"
	"partner-bot/internal/repo"
	"partner-bot/internal/session"
	"partner-bot/internal/withdrawal"

	"github.com/shopspring/decimal"
)

func (e *Engine) start(ctx context.Context, upd chat.Update, p *repo.Partner, created bool) error {
	if err := e.clearSession(ctx, upd.ActorID); err != nil {
		return err
	}

	var b strings.Builder
	if created {
		fmt.Fprintf(&b, "👋 Welcome to the %s!\n\n", e.cfg.ProgramName)
		b.WriteString("Become our partner: pass a short test, create your own promo code and earn for every client who comes with it.\n\n")
		b.WriteString("Open «Cooperation» to get started.")
	} else {
		fmt.Fprintf(&b, "👋 Welcome back, %s!", p.FullName)
		if p.IsActive && p.PromoCode != nil {
			fmt.Fprintf(&b, "\n\nYour promo code: %s", *p.PromoCode)
		}
	}
	e.send(ctx, upd.ChatID, chat.Reply{Text: b.String(), Menu: e.mainMenu(upd.ActorID)})
	return nil
}

func (e *Engine) cabinet(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	if !p.IsActive {
		e.send(ctx, upd.ChatID, lockedReply())
		return nil
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    cabinetText(p),
		Buttons: e.cabinetButtons(),
	})
	return nil
}

func (e *Engine) cooperation(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	if p.IsActive {
		e.send(ctx, upd.ChatID, chat.Reply{
			Text:    fmt.Sprintf("🤝 You are an active partner of the %s.\n\nYour promo code: %s", e.cfg.ProgramName, deref(p.PromoCode)),
			Buttons: e.cabinetButtons(),
		})
		return nil
	}

	passed, err := e.quiz.HasPassed(ctx, p.UserID)
	if err != nil {
		return err
	}
	if passed {
		e.send(ctx, upd.ChatID, chat.Reply{
			Text: "✅ You have passed the qualification test.\n\nThe last step is to create your promo code.",
			Buttons: [][]chat.Button{
				chat.Row(chat.DataButton("🏷 Create promo code", chat.KindCreatePromo, 0)),
				chat.Row(chat.DataButton("⬅️ Main menu", chat.KindBackToMain, 0)),
			},
		})
		return nil
	}

	rows := [][]chat.Button{chat.Row(chat.DataButton("📝 Take the test", chat.KindStartTest, 0))}
	if e.cfg.InfoURL != "" {
		rows = append(rows, chat.Row(chat.LinkButton("ℹ️ About the program", e.cfg.InfoURL)))
	}
	rows = append(rows, chat.Row(chat.DataButton("⬅️ Main menu", chat.KindBackToMain, 0)))
	e.send(ctx, upd.ChatID, chat.Reply{
		Text: fmt.Sprintf("🤝 %s\n\nRecommend us to people who need our services and get a reward for every client who comes with your promo code.\n\n"+
			"To join, pass a short test: %d questions, pass mark %d%%.", e.cfg.ProgramName, e.quiz.Total(), quiz.PassPercent),
		Buttons: rows,
	})
	return nil
}

func (e *Engine) support(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	if !p.IsActive {
		e.send(ctx, upd.ChatID, lockedReply())
		return nil
	}
	contact := e.cfg.SupportContact
	if contact == "" {
		contact = "write your question here and an administrator will answer"
	}
	e.send(ctx, upd.ChatID, chat.Text("💬 Support\n\n"+contact))
	return nil
}

func (e *Engine) stats(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	results, err := e.store.ListTestResults(ctx, p.UserID)
	if err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    statsText(p, results),
		Buttons: [][]chat.Button{chat.Row(chat.DataButton("⬅️ Back", chat.KindCabinet, 0))},
	})
	return nil
}

func (e *Engine) article(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	return e.link(ctx, upd, p, "📄 How to work with clients: read the starter article.", "📄 Open article", e.cfg.StarterPackURL)
}

func (e *Engine) materials(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	return e.link(ctx, upd, p, "📦 Promotional materials: banners, texts and presentations.", "📦 Open materials", e.cfg.MaterialsURL)
}

func (e *Engine) link(ctx context.Context, upd chat.Update, p *repo.Partner, text, label, url string) error {
	if !p.IsActive {
		e.send(ctx, upd.ChatID, lockedReply())
		return nil
	}
	if url == "" {
		e.send(ctx, upd.ChatID, chat.Text(text+"\n\nComing soon."))
		return nil
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text:    text,
		Buttons: [][]chat.Button{chat.Row(chat.LinkButton(label, url)), chat.Row(chat.DataButton("⬅️ Back", chat.KindCabinet, 0))},
	})
	return nil
}

// -- Withdrawal flow --

func (e *Engine) startWithdrawal(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	if !p.IsActive {
		e.send(ctx, upd.ChatID, lockedReply())
		return nil
	}
	current, err := e.withdrawals.Eligible(ctx, p.UserID)
	if errors.Is(err, withdrawal.ErrBelowMinimum) {
		e.send(ctx, upd.ChatID, chat.Text(fmt.Sprintf("💸 The minimum withdrawal is %s.\n\nYour balance: %s",
			chat.Money(e.withdrawals.MinAmount()), chat.Money(current.Balance))))
		return nil
	}
	if err != nil {
		return err
	}
	return e.begin(ctx, upd, session.New(p.UserID, session.FlowWithdraw, session.StepAwaitingAmount))
}

func (e *Engine) finishWithdrawal(ctx context.Context, upd chat.Update, sess *session.Session, comment string) error {
	amount, err := decimal.NewFromString(sess.Get("amount"))
	if err != nil {
		_ = e.endSession(ctx, sess, "corrupt")
		return fmt.Errorf("session amount: %w", err)
	}

	req := repo.NewWithdrawal{
		UserID:     sess.PartnerID,
		Amount:     amount,
		Requisites: sess.Get("requisites"),
	}
	if comment != "" {
		req.Comment = &comment
	}
	w, err := e.withdrawals.Request(ctx, req)
	if err != nil {
		return err
	}
	if err := e.endSession(ctx, sess, "requested"); err != nil {
		return err
	}

	e.send(ctx, upd.ChatID, chat.Reply{
		Text: fmt.Sprintf("✅ Withdrawal request #%d for %s has been sent to the administrator.\n\nYou will get a message once it is processed.",
			w.ID, chat.Money(w.Amount)),
		Menu: e.mainMenu(upd.ActorID),
	})
	return nil
}

// -- Qualification test --

func (e *Engine) startTest(ctx context.Context, upd chat.Update) error {
	if _, err := e.quiz.Start(ctx, upd.ActorID); err != nil {
		if errors.Is(err, quiz.ErrAlreadyRegistered) {
			e.send(ctx, upd.ChatID, chat.Reply{
				Text:    "✅ You are already a registered partner.",
				Buttons: e.cabinetButtons(),
			})
			return nil
		}
		return err
	}
	return e.begin(ctx, upd, session.New(upd.ActorID, session.FlowQuiz, session.StepAwaitingName))
}

func (e *Engine) answerButton(ctx context.Context, upd chat.Update) error {
	sess, err := e.session(ctx, upd.ActorID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Flow != session.FlowQuiz || sess.Step != session.StepAwaitingAnswer {
		e.send(ctx, upd.ChatID, chat.Reply{
			Text:    "This test is no longer active. You can start it again.",
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("📝 Take the test", chat.KindStartTest, 0))},
		})
		return nil
	}

	_, number, err := e.quiz.Current(progressOf(sess))
	if err != nil {
		return e.flowFailed(sess, err)
	}
	if upd.Action.Question != number {
		// A repeated or stale press from an earlier question.
		return e.reprompt(ctx, upd, sess, fmt.Sprintf("That button belongs to question %d. Please answer question %d.", upd.Action.Question, number))
	}
	if err := e.submitAnswer(ctx, upd, sess, int(upd.Action.Arg)); err != nil {
		return e.flowFailed(sess, err)
	}
	return nil
}

func (e *Engine) submitAnswer(ctx context.Context, upd chat.Update, sess *session.Session, choice int) error {
	progress := progressOf(sess)
	out, err := e.quiz.SubmitAnswer(ctx, upd.ActorID, progress, choice)
	if err != nil {
		switch {
		case errors.Is(err, quiz.ErrInvalidChoice):
			return e.reprompt(ctx, upd, sess, "Please choose one of the offered answers.")
		case errors.Is(err, quiz.ErrNotInProgress):
			return e.endSession(ctx, sess, "not_in_progress")
		}
		return err
	}

	if out.Result == nil {
		sess.Answers = progress.Answers
		if err := e.sessions.Put(ctx, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		e.sessionLogger(sess).Debug("answer recorded", "question", len(sess.Answers))
		e.send(ctx, upd.ChatID, questionReply(*out.Next, out.Number, e.quiz.Total()))
		return nil
	}

	outcome := "failed"
	if out.Result.Passed {
		outcome = "passed"
	}
	if err := e.endSession(ctx, sess, outcome); err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, resultReply(progress.Name, *out.Result))
	return nil
}

// -- Promo code --

func (e *Engine) startPromo(ctx context.Context, upd chat.Update, p *repo.Partner) error {
	if p.PromoCode != nil {
		e.send(ctx, upd.ChatID, chat.Text(fmt.Sprintf("🏷 You already have a promo code: %s", *p.PromoCode)))
		return nil
	}
	passed, err := e.quiz.HasPassed(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !passed {
		e.send(ctx, upd.ChatID, chat.Reply{
			Text:    "📝 Pass the qualification test first.",
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("📝 Take the test", chat.KindStartTest, 0))},
		})
		return nil
	}
	return e.begin(ctx, upd, session.New(p.UserID, session.FlowPromo, session.StepAwaitingPromoCode))
}

func (e *Engine) finishPromo(ctx context.Context, upd chat.Update, sess *session.Session, code string) error {
	p, err := e.registrar.Register(ctx, sess.PartnerID, code)
	switch {
	case errors.Is(err, repo.ErrPromoCodeTaken):
		// The session stays on the same step so the partner can try another code.
		return e.reprompt(ctx, upd, sess, fmt.Sprintf("The promo code %s is already taken.", code))
	case errors.Is(err, repo.ErrAlreadyHasCode):
		if err := e.endSession(ctx, sess, "already_has_code"); err != nil {
			return err
		}
		e.send(ctx, upd.ChatID, chat.Text("🏷 You already have a promo code."))
		return nil
	case err != nil:
		return err
	}

	if err := e.endSession(ctx, sess, "registered"); err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, chat.Reply{
		Text: fmt.Sprintf("🎉 Congratulations! Your promo code %s is registered and your partner account is active.\n\n"+
			"Share the code with clients and follow your results in the personal cabinet.", deref(p.PromoCode)),
		Menu: e.mainMenu(upd.ActorID),
	})
	return nil
}
