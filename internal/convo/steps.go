package convo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/ledger"
	"partner-bot/internal/quiz"
	"partner-bot/internal/session"
	"partner-bot/internal/withdrawal"

	"github.com/shopspring/decimal"
)

const maxFieldLength = 500

// step declares how one session step consumes raw input. A step with next
// set stores the validated value and moves on; otherwise finish runs.
type step struct {
	field    string
	next     session.Step
	validate func(ctx context.Context, sess *session.Session, input string) (string, error)
	finish   func(ctx context.Context, upd chat.Update, sess *session.Session, value string) error
}

func (e *Engine) buildSteps() map[session.Step]step {
	return map[session.Step]step{
		session.StepAwaitingName: {
			field: "name",
			next:  session.StepAwaitingAnswer,
			validate: func(_ context.Context, sess *session.Session, input string) (string, error) {
				progress := quiz.Progress{}
				if _, err := e.quiz.SubmitName(&progress, input); err != nil {
					return "", invalid("Please tell us your name.")
				}
				sess.Answers = nil
				return progress.Name, nil
			},
		},
		session.StepAwaitingAnswer: {
			validate: e.validateAnswer,
			finish: func(ctx context.Context, upd chat.Update, sess *session.Session, value string) error {
				choice, _ := strconv.Atoi(value)
				return e.submitAnswer(ctx, upd, sess, choice)
			},
		},
		session.StepAwaitingPromoCode: {
			validate: func(_ context.Context, _ *session.Session, input string) (string, error) {
				code, err := ledger.ValidatePromoCode(input)
				if err != nil {
					return "", invalid("A promo code may contain only letters and digits, up to %d characters.", ledger.MaxPromoCodeLength)
				}
				return code, nil
			},
			finish: e.finishPromo,
		},
		session.StepAwaitingAmount: {
			field:    "amount",
			next:     session.StepAwaitingRequisites,
			validate: e.validateAmount,
		},
		session.StepAwaitingRequisites: {
			field:    "requisites",
			next:     session.StepAwaitingComment,
			validate: requiredText("Please enter your payout requisites."),
		},
		session.StepAwaitingComment: {
			validate: optionalText,
			finish:   e.finishWithdrawal,
		},
		session.StepAwaitingReason: {
			validate: requiredText("Please enter the rejection reason or press Skip."),
			finish:   e.finishReject,
		},
		session.StepAwaitingManualReferrals: {
			field: "referrals",
			next:  session.StepAwaitingManualBalance,
			validate: func(_ context.Context, _ *session.Session, input string) (string, error) {
				n, err := strconv.Atoi(strings.TrimSpace(input))
				if err != nil || n < 0 {
					return "", invalid("Referrals must be a whole number, 0 or more.")
				}
				return strconv.Itoa(n), nil
			},
		},
		session.StepAwaitingManualBalance: {
			validate: func(_ context.Context, _ *session.Session, input string) (string, error) {
				d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(input), ",", "."))
				if err != nil || d.IsNegative() || d.Exponent() < -2 {
					return "", invalid("Balance must be a number, 0 or more, with at most two decimals.")
				}
				return d.String(), nil
			},
			finish: e.finishManualEdit,
		},
		session.StepAwaitingSearch: {
			validate: requiredText("Please enter an id, username or promo code."),
			finish:   e.finishSearch,
		},
	}
}

// advance validates input for the current step. Invalid input re-prompts the
// same step and keeps every collected field.
func (e *Engine) advance(ctx context.Context, upd chat.Update, sess *session.Session, input string) error {
	if err := e.advanceStep(ctx, upd, sess, input); err != nil {
		return e.flowFailed(sess, err)
	}
	return nil
}

func (e *Engine) advanceStep(ctx context.Context, upd chat.Update, sess *session.Session, input string) error {
	st, ok := e.steps[sess.Step]
	if !ok {
		_ = e.clearSession(ctx, sess.PartnerID)
		return fmt.Errorf("unknown session step %q", sess.Step)
	}

	value, err := st.validate(ctx, sess, input)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return e.reprompt(ctx, upd, sess, verr.Message)
		}
		return err
	}

	if st.field != "" {
		sess.Set(st.field, value)
	}
	if st.next == "" {
		return st.finish(ctx, upd, sess, value)
	}

	from := sess.Step
	sess.Step = st.next
	if err := e.sessions.Put(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	e.sessionLogger(sess).Debug("session step advanced", "from", string(from), "step", string(sess.Step))
	prompt, err := e.prompt(ctx, sess)
	if err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, prompt)
	return nil
}

// flowFailed logs a failure inside a session and tags the error with its id.
func (e *Engine) flowFailed(sess *session.Session, err error) error {
	var verr *ValidationError
	if !errors.As(err, &verr) && !errors.Is(err, ErrForbidden) {
		e.sessionLogger(sess).Warn("session step failed", "step", string(sess.Step), "error", err)
	}
	return &flowError{sessionID: sess.ID.String(), err: err}
}

func (e *Engine) reprompt(ctx context.Context, upd chat.Update, sess *session.Session, problem string) error {
	prompt, err := e.prompt(ctx, sess)
	if err != nil {
		return err
	}
	e.sessionLogger(sess).Debug("session input rejected", "step", string(sess.Step), "problem", problem)
	prompt.Text = "⚠️ " + problem + "\n\n" + prompt.Text
	e.send(ctx, upd.ChatID, prompt)
	return nil
}

// prompt renders the question asked at the session's current step.
func (e *Engine) prompt(ctx context.Context, sess *session.Session) (chat.Reply, error) {
	switch sess.Step {
	case session.StepAwaitingName:
		q, err := e.quiz.Start(ctx, sess.PartnerID)
		if err != nil {
			return chat.Reply{}, err
		}
		return chat.Reply{
			Text:    fmt.Sprintf("📝 Qualification test: %d questions, pass mark %d%%.\n\n%s", e.quiz.Total(), quiz.PassPercent, q.Text),
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("⬅️ Cancel", chat.KindBackToCooperation, 0))},
		}, nil

	case session.StepAwaitingAnswer:
		q, number, err := e.quiz.Current(progressOf(sess))
		if err != nil {
			return chat.Reply{}, err
		}
		return questionReply(q, number, e.quiz.Total()), nil

	case session.StepAwaitingPromoCode:
		return chat.Reply{
			Text:    "🏷 Come up with your promo code.\n\nUse letters and digits only, for example LEX2024. Clients will enter it to come to you.",
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("⬅️ Cancel", chat.KindBackToCooperation, 0))},
		}, nil

	case session.StepAwaitingAmount:
		p, err := e.store.GetPartner(ctx, sess.PartnerID)
		if err != nil {
			return chat.Reply{}, err
		}
		return chat.Reply{
			Text: fmt.Sprintf("💸 Withdrawal\n\nYour balance: %s\nMinimum amount: %s\n\nEnter the amount to withdraw:",
				chat.Money(p.Balance), chat.Money(e.withdrawals.MinAmount())),
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("⬅️ Cancel", chat.KindBackToMain, 0))},
		}, nil

	case session.StepAwaitingRequisites:
		return chat.Reply{
			Text:    "💳 Enter the payout requisites: card number or account details.",
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("⬅️ Cancel", chat.KindBackToMain, 0))},
		}, nil

	case session.StepAwaitingComment:
		return chat.Reply{
			Text: "💬 Add a comment for the administrator or press Skip.",
			Buttons: [][]chat.Button{chat.Row(
				chat.DataButton("⏭ Skip", chat.KindSkip, 0),
				chat.DataButton("⬅️ Cancel", chat.KindBackToMain, 0),
			)},
		}, nil

	case session.StepAwaitingReason:
		return chat.Reply{
			Text: fmt.Sprintf("❌ Rejecting request #%s.\n\nEnter the reason, it will be sent to the partner. Or press Skip.", sess.Get("withdrawal_id")),
			Buttons: [][]chat.Button{chat.Row(
				chat.DataButton("⏭ Skip", chat.KindSkip, 0),
				chat.DataButton("↩️ Cancel", chat.KindCancelReject, 0),
			)},
		}, nil

	case session.StepAwaitingManualReferrals, session.StepAwaitingManualBalance:
		id, _ := strconv.ParseInt(sess.Get("partner_id"), 10, 64)
		p, err := e.store.GetPartner(ctx, id)
		if err != nil {
			return chat.Reply{}, err
		}
		text := fmt.Sprintf("✏️ Editing %s\n\nCurrent referrals: %d\nEnter the new number of referrals:", p.FullName, p.Referrals)
		if sess.Step == session.StepAwaitingManualBalance {
			text = fmt.Sprintf("✏️ Editing %s\n\nReferrals will be set to %s.\nCurrent balance: %s\nEnter the new balance:", p.FullName, sess.Get("referrals"), chat.Money(p.Balance))
		}
		return chat.Reply{
			Text:    text,
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("⬅️ Cancel", chat.KindBackToAdmin, 0))},
		}, nil

	case session.StepAwaitingSearch:
		return chat.Reply{
			Text:    "🔎 Enter a partner id, username or promo code:",
			Buttons: [][]chat.Button{chat.Row(chat.DataButton("⬅️ Back", chat.KindBackToAdmin, 0))},
		}, nil
	}
	return chat.Reply{}, fmt.Errorf("no prompt for step %q", sess.Step)
}

func (e *Engine) validateAnswer(_ context.Context, sess *session.Session, input string) (string, error) {
	q, _, err := e.quiz.Current(progressOf(sess))
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > len(q.Options) {
		return "", invalid("Choose an answer with the buttons or send its number from 1 to %d.", len(q.Options))
	}
	return strconv.Itoa(n - 1), nil
}

func (e *Engine) validateAmount(ctx context.Context, sess *session.Session, input string) (string, error) {
	amount, err := withdrawal.ParseAmount(input)
	if err != nil {
		return "", invalid("Enter the amount as a number, for example 2000.")
	}
	if err := e.withdrawals.Validate(ctx, sess.PartnerID, amount); err != nil {
		switch {
		case errors.Is(err, withdrawal.ErrBelowMinimum):
			return "", invalid("The minimum withdrawal is %s.", chat.Money(e.withdrawals.MinAmount()))
		case errors.Is(err, withdrawal.ErrInsufficientBalance):
			return "", invalid("The amount exceeds your balance.")
		}
		return "", err
	}
	return amount.String(), nil
}

func requiredText(message string) func(context.Context, *session.Session, string) (string, error) {
	return func(_ context.Context, _ *session.Session, input string) (string, error) {
		input = strings.TrimSpace(input)
		if input == "" {
			return "", invalid("%s", message)
		}
		if len([]rune(input)) > maxFieldLength {
			return "", invalid("The text is too long, keep it under %d characters.", maxFieldLength)
		}
		return input, nil
	}
}

func optionalText(_ context.Context, _ *session.Session, input string) (string, error) {
	input = strings.TrimSpace(input)
	if len([]rune(input)) > maxFieldLength {
		return "", invalid("The text is too long, keep it under %d characters.", maxFieldLength)
	}
	return input, nil
}

func progressOf(sess *session.Session) *quiz.Progress {
	return &quiz.Progress{Name: sess.Get("name"), Answers: sess.Answers}
}
