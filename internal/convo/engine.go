package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"partner-bot/internal/chat"
	"partner-bot/internal/keylock"
	"partner-bot/internal/ledger"
	"partner-bot/internal/metrics"
	"partner-bot/internal/quiz"
	"partner-bot/internal/repo"
	"partner-bot/internal/session"
	"partner-bot/internal/withdrawal"

	"github.com/shopspring/decimal"
)

// ErrForbidden is returned when a non-administrator invokes an administrator action.
var ErrForbidden = errors.New("forbidden")

// ValidationError carries a user-facing explanation of malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// flowError tags a failure with the session it happened in.
type flowError struct {
	sessionID string
	err       error
}

func (e *flowError) Error() string {
	return e.err.Error()
}

func (e *flowError) Unwrap() error {
	return e.err
}

// EngineConfig carries presentation settings and the administrator allow-list.
type EngineConfig struct {
	Admins         []int64
	ProgramName    string
	SupportContact string
	MaterialsURL   string
	StarterPackURL string
	InfoURL        string
	QuickCredit    decimal.Decimal
}

// Engine routes decoded chat actions to the partner and administrator flows.
type Engine struct {
	store       repo.Repository
	sessions    session.Store
	quiz        *quiz.Service
	ledger      *ledger.Ledger
	registrar   *ledger.Registrar
	withdrawals *withdrawal.Service
	messenger   chat.Messenger
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         EngineConfig
	admins      map[int64]bool
	actors      *keylock.Locker
	steps       map[session.Step]step
	now         func() time.Time
}

// New constructs a conversation engine.
func New(
	store repo.Repository,
	sessions session.Store,
	quizService *quiz.Service,
	ledgerService *ledger.Ledger,
	registrar *ledger.Registrar,
	withdrawals *withdrawal.Service,
	messenger chat.Messenger,
	metricRegistry *metrics.Metrics,
	logger *slog.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.ProgramName == "" {
		cfg.ProgramName = "Partner program"
	}
	if !cfg.QuickCredit.IsPositive() {
		cfg.QuickCredit = decimal.NewFromInt(500)
	}
	admins := make(map[int64]bool, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = true
	}

	e := &Engine{
		store:       store,
		sessions:    sessions,
		quiz:        quizService,
		ledger:      ledgerService,
		registrar:   registrar,
		withdrawals: withdrawals,
		messenger:   messenger,
		metrics:     metricRegistry,
		logger:      logger.With("component", "convo"),
		cfg:         cfg,
		admins:      admins,
		actors:      keylock.New(),
		now:         time.Now,
	}
	e.steps = e.buildSteps()
	return e
}

// Handle processes one inbound action. Actions of the same actor run one at a
// time; every error ends up as a reply, never as a transport failure.
func (e *Engine) Handle(ctx context.Context, upd chat.Update) {
	start := time.Now()
	kind := upd.Action.Kind

	unlock := e.actors.Lock(upd.ActorID)
	defer unlock()

	if e.metrics != nil {
		e.metrics.IncomingActions.WithLabelValues(kind.String()).Inc()
		defer func() {
			e.metrics.ActionLatency.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		}()
	}

	if err := e.handle(ctx, upd); err != nil {
		e.fail(ctx, upd, err)
	}
}

func (e *Engine) handle(ctx context.Context, upd chat.Update) error {
	kind := upd.Action.Kind
	if kind.AdminOnly() && !e.isAdmin(upd.ActorID) {
		return ErrForbidden
	}

	p, created, err := e.ensurePartner(ctx, upd)
	if err != nil {
		return err
	}

	switch kind {
	case chat.KindStart:
		return e.start(ctx, upd, p, created)
	case chat.KindText:
		return e.text(ctx, upd)
	case chat.KindSkip:
		return e.skip(ctx, upd)
	case chat.KindBackToMain:
		if err := e.clearSession(ctx, upd.ActorID); err != nil {
			return err
		}
		e.send(ctx, upd.ChatID, chat.Reply{Text: "🏠 Main menu", Menu: e.mainMenu(upd.ActorID)})
		return nil
	case chat.KindCabinet:
		return e.cabinet(ctx, upd, p)
	case chat.KindCooperation, chat.KindBackToCooperation:
		return e.cooperation(ctx, upd, p)
	case chat.KindSupport:
		return e.support(ctx, upd, p)
	case chat.KindStats:
		return e.stats(ctx, upd, p)
	case chat.KindArticle:
		return e.article(ctx, upd, p)
	case chat.KindMaterials:
		return e.materials(ctx, upd, p)
	case chat.KindWithdraw:
		return e.startWithdrawal(ctx, upd, p)
	case chat.KindStartTest:
		return e.startTest(ctx, upd)
	case chat.KindAnswer:
		return e.answerButton(ctx, upd)
	case chat.KindCreatePromo:
		return e.startPromo(ctx, upd, p)

	case chat.KindAdminPanel, chat.KindBackToAdmin:
		return e.adminPanel(ctx, upd)
	case chat.KindPartnersTable:
		return e.partnersTable(ctx, upd)
	case chat.KindSearchPartner:
		return e.startSearch(ctx, upd)
	case chat.KindWithdrawalLog:
		return e.withdrawalLog(ctx, upd)
	case chat.KindExportData:
		return e.exportData(ctx, upd)
	case chat.KindAddReferral:
		return e.quickCredit(ctx, upd, upd.Action.Arg, 1, decimal.Zero)
	case chat.KindAddBalance:
		return e.quickCredit(ctx, upd, upd.Action.Arg, 0, e.cfg.QuickCredit)
	case chat.KindEditManual:
		return e.startManualEdit(ctx, upd, upd.Action.Arg)
	case chat.KindCompleteWithdrawal:
		return e.completeWithdrawal(ctx, upd, upd.Action.Arg)
	case chat.KindRejectWithdrawal:
		return e.startReject(ctx, upd, upd.Action.Arg)
	case chat.KindCancelReject:
		return e.cancelReject(ctx, upd)
	}

	e.send(ctx, upd.ChatID, chat.Reply{
		Text: "🤔 Unknown command. Please use the menu below.",
		Menu: e.mainMenu(upd.ActorID),
	})
	return nil
}

// text feeds free input into the active session step.
func (e *Engine) text(ctx context.Context, upd chat.Update) error {
	sess, err := e.session(ctx, upd.ActorID)
	if err != nil {
		return err
	}
	if sess == nil {
		e.send(ctx, upd.ChatID, chat.Reply{
			Text: "🤔 I did not understand that. Please use the menu below.",
			Menu: e.mainMenu(upd.ActorID),
		})
		return nil
	}
	if sess.Flow.AdminOnly() && !e.isAdmin(upd.ActorID) {
		_ = e.clearSession(ctx, upd.ActorID)
		return ErrForbidden
	}
	return e.advance(ctx, upd, sess, upd.Action.Text)
}

func (e *Engine) skip(ctx context.Context, upd chat.Update) error {
	sess, err := e.session(ctx, upd.ActorID)
	if err != nil {
		return err
	}
	if sess == nil {
		e.send(ctx, upd.ChatID, chat.Text("Nothing to skip right now."))
		return nil
	}
	if sess.Flow.AdminOnly() && !e.isAdmin(upd.ActorID) {
		_ = e.clearSession(ctx, upd.ActorID)
		return ErrForbidden
	}

	switch sess.Step {
	case session.StepAwaitingComment:
		return e.finishWithdrawal(ctx, upd, sess, "")
	case session.StepAwaitingReason:
		return e.finishReject(ctx, upd, sess, "")
	}
	return e.reprompt(ctx, upd, sess, "This step cannot be skipped.")
}

func (e *Engine) fail(ctx context.Context, upd chat.Update, err error) {
	logger := e.logger
	var ferr *flowError
	if errors.As(err, &ferr) {
		logger = logger.With("session_id", ferr.sessionID)
	}

	var verr *ValidationError
	switch {
	case errors.Is(err, ErrForbidden):
		logger.Warn("administrator action denied", "actor_id", upd.ActorID, "kind", upd.Action.Kind.String())
		e.send(ctx, upd.ChatID, chat.Text("⛔ Access denied."))
	case errors.As(err, &verr):
		e.send(ctx, upd.ChatID, chat.Text("⚠️ "+verr.Message))
	case errors.Is(err, repo.ErrNotFound):
		e.send(ctx, upd.ChatID, chat.Text("🔍 Not found."))
	default:
		logger.Error("failed handling chat action", "actor_id", upd.ActorID, "kind", upd.Action.Kind.String(), "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo").Inc()
		}
		e.send(ctx, upd.ChatID, chat.Text("⚠️ Something went wrong. Please try again later."))
	}
}

// ensurePartner loads the actor's partner record, creating it on first contact.
func (e *Engine) ensurePartner(ctx context.Context, upd chat.Update) (*repo.Partner, bool, error) {
	p, err := e.store.GetPartner(ctx, upd.ActorID)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	name := strings.TrimSpace(upd.FullName)
	if name == "" && upd.Username != nil {
		name = *upd.Username
	}
	if name == "" {
		name = "Partner " + strconv.FormatInt(upd.ActorID, 10)
	}
	p, err = e.store.UpsertPartner(ctx, repo.PartnerProfile{UserID: upd.ActorID, Username: upd.Username, FullName: name})
	if err != nil {
		return nil, false, err
	}
	e.logger.Info("partner created", "partner_id", p.UserID)
	return p, true, nil
}

func (e *Engine) isAdmin(id int64) bool {
	return e.admins[id]
}

func (e *Engine) session(ctx context.Context, actorID int64) (*session.Session, error) {
	sess, err := e.sessions.Get(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// begin replaces any unfinished session of the actor with a new flow and shows its first prompt.
func (e *Engine) begin(ctx context.Context, upd chat.Update, sess *session.Session) error {
	if err := e.sessions.Put(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	e.sessionLogger(sess).Info("session started", "step", string(sess.Step))
	prompt, err := e.prompt(ctx, sess)
	if err != nil {
		return err
	}
	e.send(ctx, upd.ChatID, prompt)
	return nil
}

func (e *Engine) sessionLogger(sess *session.Session) *slog.Logger {
	return e.logger.With("session_id", sess.ID.String(), "partner_id", sess.PartnerID, "flow", string(sess.Flow))
}

// endSession clears a session whose flow reached a terminal outcome.
func (e *Engine) endSession(ctx context.Context, sess *session.Session, outcome string) error {
	if err := e.sessions.Delete(ctx, sess.PartnerID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	e.sessionLogger(sess).Info("session finished", "step", string(sess.Step), "outcome", outcome)
	return nil
}

// clearSession drops whatever session the actor has, logging it as abandoned.
func (e *Engine) clearSession(ctx context.Context, actorID int64) error {
	if sess, err := e.sessions.Get(ctx, actorID); err == nil && sess != nil {
		return e.endSession(ctx, sess, "abandoned")
	}
	if err := e.sessions.Delete(ctx, actorID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (e *Engine) send(ctx context.Context, chatID int64, reply chat.Reply) {
	if err := e.messenger.Send(ctx, chatID, reply); err != nil {
		e.logger.Warn("failed sending reply", "chat_id", chatID, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo_send").Inc()
		}
	}
}
