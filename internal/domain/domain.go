// Package domain holds the goal-tracking entities shared by the bot, the
// SQL stores and the verification API.
package domain

import (
	"fmt"
	"time"
)

// Role is a board participant's permission level.
type Role int

const (
	RoleOwner  Role = 1
	RoleWriter Role = 2
	RoleReader Role = 3
)

// CanWrite reports whether the role may add goals to the board's categories.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleWriter
}

type Status int

const (
	StatusToDo       Status = 1
	StatusInProgress Status = 2
	StatusDone       Status = 3
	StatusArchived   Status = 4
)

type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// DefaultDueIn is how far ahead a goal created from the bot is due.
const DefaultDueIn = 31 * 24 * time.Hour

type Account struct {
	ID       int64
	Username string
}

type Category struct {
	ID      int64
	BoardID int64
	Title   string
}

type Goal struct {
	ID         int64
	AccountID  int64
	CategoryID int64
	Title      string
	Status     Status
	Priority   Priority
	DueDate    time.Time
}

// NewGoal is the input for creating a goal. Status and priority take
// their defaults when zero.
type NewGoal struct {
	Title      string
	CategoryID int64
	AccountID  int64
	Status     Status
	Priority   Priority
	DueDate    time.Time
}

// WithDefaults fills zero status and priority.
func (g NewGoal) WithDefaults() NewGoal {
	if g.Status == 0 {
		g.Status = StatusToDo
	}
	if g.Priority == 0 {
		g.Priority = PriorityMedium
	}
	return g
}

// AccountLink is the link state of a chat identity: either unlinked or
// linked to exactly one account.
type AccountLink struct {
	id     int64
	linked bool
}

func Unlinked() AccountLink { return AccountLink{} }

func LinkedTo(accountID int64) AccountLink {
	return AccountLink{id: accountID, linked: true}
}

func (a AccountLink) Linked() bool { return a.linked }

// AccountID returns the linked account id. ok is false when unlinked.
func (a AccountLink) AccountID() (id int64, ok bool) {
	return a.id, a.linked
}

func (a AccountLink) String() string {
	if !a.linked {
		return "unlinked"
	}
	return fmt.Sprintf("linked(%d)", a.id)
}

// ChatIdentity binds a Telegram chat to an account.
type ChatIdentity struct {
	ChatID           int64
	DisplayName      string
	VerificationCode string
	Account          AccountLink
}

// DomainConstraintError is returned when a write is rejected because the
// referenced data no longer allows it.
type DomainConstraintError struct {
	CategoryID int64
	Reason     string
}

func (e *DomainConstraintError) Error() string {
	return fmt.Sprintf("category %d: %s", e.CategoryID, e.Reason)
}
