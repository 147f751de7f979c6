// Package events publishes domain events produced by the bot.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"goals-telegram/internal/domain"
)

const DefaultSubject = "goals.created"

// GoalCreated is the payload published after a goal is created.
type GoalCreated struct {
	GoalID     int64     `json:"goal_id"`
	AccountID  int64     `json:"account_id"`
	CategoryID int64     `json:"category_id"`
	Title      string    `json:"title"`
	DueDate    time.Time `json:"due_date"`
}

type Publisher interface {
	PublishGoalCreated(ctx context.Context, g domain.Goal) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishGoalCreated(context.Context, domain.Goal) error { return nil }

// conn is the subset of *nats.Conn used here.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

type NATSPublisher struct {
	conn    conn
	subject string
}

// NewNATSPublisher connects to url and publishes on subject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("goals-bot"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return newNATSPublisher(nc, subject), nil
}

func newNATSPublisher(c conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: c, subject: subject}
}

func (p *NATSPublisher) PublishGoalCreated(ctx context.Context, g domain.Goal) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(GoalCreated{
		GoalID:     g.ID,
		AccountID:  g.AccountID,
		CategoryID: g.CategoryID,
		Title:      g.Title,
		DueDate:    g.DueDate.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal goal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
