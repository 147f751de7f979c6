package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"goals-telegram/internal/domain"
	"goals-telegram/internal/events"
	"goals-telegram/internal/metrics"
	"goals-telegram/pkg/store"
)

// Goals is the domain store the dialogue reads from and writes to.
type Goals interface {
	ListWritableCategories(ctx context.Context, accountID int64) ([]domain.Category, error)
	CategoryIsWritable(ctx context.Context, accountID, categoryID int64) (bool, error)
	ListGoals(ctx context.Context, accountID int64) ([]domain.Goal, error)
	CreateGoal(ctx context.Context, g domain.NewGoal) (domain.Goal, error)
}

type CodeIssuer interface {
	IssueVerificationCode(ctx context.Context, ident *domain.ChatIdentity) (string, error)
}

type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (*tgbotapi.Message, error)
}

// Engine runs the dialogue for one message at a time. A chat must not be
// handled by two goroutines at once.
type Engine struct {
	store   store.Store
	goals   Goals
	codes   CodeIssuer
	tg      Messenger
	events  events.Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithEvents(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(st store.Store, goals Goals, codes CodeIssuer, tg Messenger, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		goals:   goals,
		codes:   codes,
		tg:      tg,
		events:  events.NopPublisher{},
		metrics: metrics.Discard(),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle processes one text message from ident. Returned errors are
// store or domain failures; undeliverable replies are only logged.
func (e *Engine) Handle(ctx context.Context, ident domain.ChatIdentity, text string) error {
	log := e.log.With("chat_id", ident.ChatID)

	accountID, linked := ident.Account.AccountID()
	if !linked {
		code, err := e.codes.IssueVerificationCode(ctx, &ident)
		if err != nil {
			e.reply(ctx, log, ident.ChatID, MsgTemporaryFailure)
			return err
		}
		e.reply(ctx, log, ident.ChatID, verificationCodeText(code))
		return nil
	}

	cur, err := e.loadSession(ctx, log, ident.ChatID)
	if err != nil {
		return err
	}
	next, action := Step(cur, text)
	return e.execute(ctx, log, ident.ChatID, accountID, cur, next, action)
}

func (e *Engine) execute(ctx context.Context, log *slog.Logger, chatID, accountID int64, cur, next Session, action Action) error {
	switch a := action.(type) {
	case NoOp:
		return nil

	case Reply:
		if err := e.saveSession(ctx, chatID, cur, next); err != nil {
			return err
		}
		e.reply(ctx, log, chatID, a.Text)
		return nil

	case ListCategories:
		cats, err := e.goals.ListWritableCategories(ctx, accountID)
		if err != nil {
			e.reply(ctx, log, chatID, MsgTemporaryFailure)
			return fmt.Errorf("list categories: %w", err)
		}
		if err := e.saveSession(ctx, chatID, cur, next); err != nil {
			return err
		}
		e.reply(ctx, log, chatID, categoriesText(cats))
		return nil

	case ListGoals:
		goals, err := e.goals.ListGoals(ctx, accountID)
		if err != nil {
			e.reply(ctx, log, chatID, MsgTemporaryFailure)
			return fmt.Errorf("list goals: %w", err)
		}
		e.reply(ctx, log, chatID, goalsText(goals))
		return nil

	case CheckCategory:
		ok, err := e.goals.CategoryIsWritable(ctx, accountID, a.CategoryID)
		if err != nil {
			e.reply(ctx, log, chatID, MsgTemporaryFailure)
			return fmt.Errorf("check category: %w", err)
		}
		checked, reply := CategoryChecked(next, a.CategoryID, ok)
		return e.execute(ctx, log, chatID, accountID, cur, checked, reply)

	case CreateGoal:
		return e.createGoal(ctx, log, chatID, accountID, cur, next, a.Goal)

	case IncompleteGoal:
		log.Warn("goal title received without a category", "state", cur.State.String())
		if err := e.saveSession(ctx, chatID, cur, next); err != nil {
			return err
		}
		e.reply(ctx, log, chatID, MsgFailedToCreate)
		return nil
	}
	return fmt.Errorf("unhandled dialogue action %T", action)
}

func (e *Engine) createGoal(ctx context.Context, log *slog.Logger, chatID, accountID int64, cur, next Session, p PendingGoal) error {
	goal, createErr := e.goals.CreateGoal(ctx, domain.NewGoal{
		Title:      *p.Title,
		CategoryID: *p.CategoryID,
		AccountID:  accountID,
		DueDate:    e.now().Add(domain.DefaultDueIn),
	})
	// the session ends whatever the outcome
	if err := e.saveSession(ctx, chatID, cur, next); err != nil {
		return err
	}

	var constraint *domain.DomainConstraintError
	switch {
	case errors.As(createErr, &constraint):
		log.Info("goal category no longer writable", "category_id", constraint.CategoryID)
		e.reply(ctx, log, chatID, MsgCategoryUnavailable)
		return nil
	case createErr != nil:
		e.reply(ctx, log, chatID, MsgTemporaryFailure)
		return fmt.Errorf("create goal: %w", createErr)
	}

	e.metrics.GoalsCreated.Inc()
	log.Info("goal created", "goal_id", goal.ID, "category_id", goal.CategoryID)
	if err := e.events.PublishGoalCreated(ctx, goal); err != nil {
		log.Warn("publish goal event failed", "goal_id", goal.ID, "error", err)
	}
	e.reply(ctx, log, chatID, goalCreatedText(goal.Title))
	return nil
}

// loadSession reads the chat's session. A session that cannot be decoded
// is discarded.
func (e *Engine) loadSession(ctx context.Context, log *slog.Logger, chatID int64) (Session, error) {
	state, err := e.store.GetState(ctx, chatID)
	if err != nil && !errors.Is(err, store.ErrUnknownState) {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if err != nil {
		log.Warn("discarding unreadable session", "error", err)
		if _, derr := e.store.Destroy(ctx, chatID); derr != nil {
			return Session{}, fmt.Errorf("load session: %w", derr)
		}
		return Session{}, nil
	}
	if state == store.StateNone {
		return Session{}, nil
	}
	data, err := e.store.GetData(ctx, chatID)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return Session{State: state, Pending: PendingFromData(data)}, nil
}

// saveSession persists the transition from cur to next.
func (e *Engine) saveSession(ctx context.Context, chatID int64, cur, next Session) error {
	if next.State == store.StateNone {
		if cur.State == store.StateNone {
			return nil
		}
		if _, err := e.store.Destroy(ctx, chatID); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	}

	if next.Pending.Empty() {
		if err := e.store.SetData(ctx, chatID, next.Pending.Data()); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	} else if delta := changed(cur.Pending.Data(), next.Pending.Data()); len(delta) > 0 {
		if err := e.store.MergeData(ctx, chatID, delta); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	if next.State != cur.State {
		if err := e.store.SetState(ctx, chatID, next.State); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

func changed(before, after store.Data) store.Data {
	delta := store.Data{}
	for k, v := range after {
		if before[k] != v {
			delta[k] = v
		}
	}
	return delta
}

// reply sends text once. A lost reply is logged and not resent, since the
// request may have reached the chat before failing.
func (e *Engine) reply(ctx context.Context, log *slog.Logger, chatID int64, text string) {
	if _, err := e.tg.SendMessage(ctx, chatID, text); err != nil {
		e.metrics.SendErrors.Inc()
		log.Error("send reply failed", "error", err)
		return
	}
	e.metrics.MessagesSent.Inc()
}
