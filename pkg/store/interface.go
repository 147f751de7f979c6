package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownState is returned when a persisted state cannot be decoded.
var ErrUnknownState = errors.New("unknown dialogue state")

// State is a chat's position in the goal creation dialogue.
type State int

const (
	StateNone State = iota
	StateAwaitingCategory
	StateAwaitingTitle
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAwaitingCategory:
		return "awaiting_category"
	case StateAwaitingTitle:
		return "awaiting_title"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(v string) (State, error) {
	switch v {
	case "", "none":
		return StateNone, nil
	case "awaiting_category":
		return StateAwaitingCategory, nil
	case "awaiting_title":
		return StateAwaitingTitle, nil
	}
	return StateNone, fmt.Errorf("%w %q", ErrUnknownState, v)
}

// Keys used in the pending data of a session.
const (
	KeyCategoryID = "category_id"
	KeyGoalTitle  = "goal_title"
)

// Data is the pending payload collected while a dialogue is in progress.
// A nil value means the key is present but unset.
type Data map[string]any

func (d Data) clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Store defines per-chat conversation persistence
type Store interface {
	// GetState returns StateNone for chats that have no session.
	GetState(ctx context.Context, chatID int64) (State, error)
	SetState(ctx context.Context, chatID int64, state State) error
	// GetData returns an empty map for chats that have no session.
	GetData(ctx context.Context, chatID int64) (Data, error)
	SetData(ctx context.Context, chatID int64, data Data) error
	// MergeData overwrites the given keys and keeps the others.
	MergeData(ctx context.Context, chatID int64, delta Data) error
	// Destroy removes state and data. It reports whether a session existed.
	Destroy(ctx context.Context, chatID int64) (bool, error)
}
