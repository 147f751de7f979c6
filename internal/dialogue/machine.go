// Package dialogue drives the per-chat goal creation conversation. Step
// and CategoryChecked are pure; Engine performs their effects.
package dialogue

import (
	"fmt"
	"strconv"
	"strings"

	"goals-telegram/pkg/store"
)

// PendingGoal is the goal being assembled. It is complete once both fields
// are set.
type PendingGoal struct {
	CategoryID *int64
	Title      *string
}

func (p PendingGoal) Complete() bool {
	return p.CategoryID != nil && p.Title != nil
}

func (p PendingGoal) Empty() bool {
	return p.CategoryID == nil && p.Title == nil
}

// Data renders the pending goal as stored session data. Unset fields are
// present with a nil value.
func (p PendingGoal) Data() store.Data {
	d := store.Data{store.KeyCategoryID: nil, store.KeyGoalTitle: nil}
	if p.CategoryID != nil {
		d[store.KeyCategoryID] = *p.CategoryID
	}
	if p.Title != nil {
		d[store.KeyGoalTitle] = *p.Title
	}
	return d
}

// PendingFromData reads session data back. Values of the wrong type are
// treated as unset.
func PendingFromData(d store.Data) PendingGoal {
	var p PendingGoal
	switch v := d[store.KeyCategoryID].(type) {
	case int64:
		p.CategoryID = &v
	case int:
		id := int64(v)
		p.CategoryID = &id
	case float64:
		if v == float64(int64(v)) {
			id := int64(v)
			p.CategoryID = &id
		}
	}
	if v, ok := d[store.KeyGoalTitle].(string); ok {
		p.Title = &v
	}
	return p
}

// Session is a chat's conversation state.
type Session struct {
	State   store.State
	Pending PendingGoal
}

// Action is an effect requested by the state machine.
type Action interface{ isAction() }

type (
	// Reply sends Text to the chat.
	Reply struct{ Text string }
	// ListCategories replies with the writable categories.
	ListCategories struct{}
	// ListGoals replies with the caller's goals.
	ListGoals struct{}
	// CheckCategory asks whether CategoryID is writable. The answer is fed
	// back through CategoryChecked.
	CheckCategory struct{ CategoryID int64 }
	// CreateGoal commits a complete pending goal.
	CreateGoal struct{ Goal PendingGoal }
	// IncompleteGoal reports a title arriving without a category.
	IncompleteGoal struct{ Goal PendingGoal }
	// NoOp does nothing.
	NoOp struct{}
)

func (Reply) isAction()          {}
func (ListCategories) isAction() {}
func (ListGoals) isAction()      {}
func (CheckCategory) isAction()  {}
func (CreateGoal) isAction()     {}
func (IncompleteGoal) isAction() {}
func (NoOp) isAction()           {}

// ValidationError is returned for dialogue input that cannot be used.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Input, e.Reason)
}

// ParseCategoryID accepts a positive decimal integer made of ASCII digits
// only.
func ParseCategoryID(text string) (int64, error) {
	if text == "" {
		return 0, &ValidationError{Input: text, Reason: "empty"}
	}
	for i := 0; i < len(text); i++ {
		if text[i] < '0' || text[i] > '9' {
			return 0, &ValidationError{Input: text, Reason: "not a number"}
		}
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, &ValidationError{Input: text, Reason: "out of range"}
	}
	if id <= 0 {
		return 0, &ValidationError{Input: text, Reason: "must be positive"}
	}
	return id, nil
}

// Step computes the next session and the action for a message from a
// linked chat.
func Step(s Session, text string) (Session, Action) {
	switch {
	case text == CmdCreate:
		return Session{State: store.StateAwaitingCategory}, ListCategories{}
	case text == CmdGoals:
		return s, ListGoals{}
	case text == CmdCancel && s.State != store.StateNone:
		return Session{}, Reply{Text: MsgCancelled}
	}

	switch s.State {
	case store.StateAwaitingCategory:
		id, err := ParseCategoryID(text)
		if err != nil {
			return s, Reply{Text: MsgInvalidValue}
		}
		return s, CheckCategory{CategoryID: id}
	case store.StateAwaitingTitle:
		pending := s.Pending
		title := text
		pending.Title = &title
		if pending.Complete() {
			return Session{}, CreateGoal{Goal: pending}
		}
		return Session{}, IncompleteGoal{Goal: pending}
	}

	if strings.HasPrefix(text, "/") {
		return s, Reply{Text: MsgUnknownCommand}
	}
	return s, NoOp{}
}

// CategoryChecked completes a CheckCategory action.
func CategoryChecked(s Session, categoryID int64, writable bool) (Session, Action) {
	if !writable {
		return s, Reply{Text: MsgCategoryNotFound}
	}
	next := Session{State: store.StateAwaitingTitle, Pending: s.Pending}
	next.Pending.CategoryID = &categoryID
	return next, Reply{Text: MsgCategorySelected}
}
