package dialogue

import (
	"fmt"
	"strings"

	"goals-telegram/internal/domain"
)

const (
	CmdCreate = "/create"
	CmdGoals  = "/goals"
	CmdCancel = "/cancel"
)

const (
	MsgNoCategories        = "No categories found"
	MsgNoGoals             = "No goals found"
	MsgCancelled           = "Cancelled"
	MsgInvalidValue        = "Invalid value entered"
	MsgCategorySelected    = "Category selected. Enter the goal title"
	MsgCategoryNotFound    = "Category not found"
	MsgFailedToCreate      = "Failed to create goal"
	MsgCategoryUnavailable = "Category is no longer available"
	MsgUnknownCommand      = "Unknown command"
	MsgTemporaryFailure    = "Something went wrong, please try again later"
)

func verificationCodeText(code string) string {
	return "Your verification code: " + code
}

func goalCreatedText(title string) string {
	return "New goal created: " + title
}

func categoriesText(cats []domain.Category) string {
	if len(cats) == 0 {
		return MsgNoCategories
	}
	lines := make([]string, 0, len(cats)+1)
	lines = append(lines, "Select a category:")
	for _, c := range cats {
		lines = append(lines, fmt.Sprintf("№%d - %s", c.ID, c.Title))
	}
	return strings.Join(lines, "\n")
}

func goalsText(goals []domain.Goal) string {
	if len(goals) == 0 {
		return MsgNoGoals
	}
	lines := make([]string, 0, len(goals))
	for _, g := range goals {
		lines = append(lines, fmt.Sprintf("№%d - %s", g.ID, g.Title))
	}
	return strings.Join(lines, "\n")
}
