package storage

import (
	"context"
	"fmt"
	"time"

	"goals-telegram/internal/domain"
)

// GoalStore reads categories and goals and creates goals on behalf of an
// account.
type GoalStore struct {
	db  *DB
	now func() time.Time
}

func NewGoalStore(db *DB) *GoalStore {
	return &GoalStore{db: db, now: time.Now}
}

// A category is writable by an account that owns or writes on its board,
// while neither the category nor the board is deleted.
const writableCategoriesFrom = `
FROM goal_categories c
JOIN boards b ON b.id = c.board_id
JOIN board_participants p ON p.board_id = c.board_id
WHERE p.account_id = ? AND p.role IN (?, ?) AND c.is_deleted = ? AND b.is_deleted = ?`

func writableArgs(accountID int64) []any {
	return []any{accountID, int(domain.RoleOwner), int(domain.RoleWriter), false, false}
}

func (s *GoalStore) ListWritableCategories(ctx context.Context, accountID int64) ([]domain.Category, error) {
	rows, err := s.db.db.QueryContext(ctx,
		s.db.rebind(`SELECT c.id, c.board_id, c.title`+writableCategoriesFrom+` ORDER BY c.id`),
		writableArgs(accountID)...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Title); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

func (s *GoalStore) CategoryIsWritable(ctx context.Context, accountID, categoryID int64) (bool, error) {
	ok, err := s.categoryIsWritable(ctx, s.db.db, accountID, categoryID)
	if err != nil {
		return false, fmt.Errorf("check category %d: %w", categoryID, err)
	}
	return ok, nil
}

func (s *GoalStore) categoryIsWritable(ctx context.Context, q queryer, accountID, categoryID int64) (bool, error) {
	args := append(writableArgs(accountID), categoryID)
	var ok bool
	err := q.QueryRowContext(ctx,
		s.db.rebind(`SELECT EXISTS (SELECT 1`+writableCategoriesFrom+` AND c.id = ?)`),
		args...).Scan(&ok)
	return ok, err
}

// ListGoals returns the goals the account owns, oldest first.
func (s *GoalStore) ListGoals(ctx context.Context, accountID int64) ([]domain.Goal, error) {
	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(`
SELECT id, account_id, category_id, title, status, priority
FROM goals WHERE account_id = ? ORDER BY id`), accountID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []domain.Goal
	for rows.Next() {
		var g domain.Goal
		if err := rows.Scan(&g.ID, &g.AccountID, &g.CategoryID, &g.Title, &g.Status, &g.Priority); err != nil {
			return nil, fmt.Errorf("list goals: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return out, nil
}

// CreateGoal inserts the goal if the category is still writable by the
// account. Otherwise it returns a *domain.DomainConstraintError.
func (s *GoalStore) CreateGoal(ctx context.Context, in domain.NewGoal) (domain.Goal, error) {
	in = in.WithDefaults()
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("create goal: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := s.categoryIsWritable(ctx, tx, in.AccountID, in.CategoryID)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("create goal: check category: %w", err)
	}
	if !ok {
		return domain.Goal{}, &domain.DomainConstraintError{CategoryID: in.CategoryID, Reason: "category is not writable"}
	}

	now := s.now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx, s.db.rebind(`
INSERT INTO goals (account_id, category_id, title, status, priority, due_date, created, updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		in.AccountID, in.CategoryID, in.Title, int(in.Status), int(in.Priority), in.DueDate.UTC(), now, now,
	).Scan(&id)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("create goal: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, fmt.Errorf("create goal: commit: %w", err)
	}
	return domain.Goal{
		ID:         id,
		AccountID:  in.AccountID,
		CategoryID: in.CategoryID,
		Title:      in.Title,
		Status:     in.Status,
		Priority:   in.Priority,
		DueDate:    in.DueDate,
	}, nil
}

// CreateBoard creates a board with ownerID as its owner.
func (s *GoalStore) CreateBoard(ctx context.Context, title string, ownerID int64) (int64, error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("create board: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, s.db.rebind(`INSERT INTO boards (title) VALUES (?) RETURNING id`), title).Scan(&id); err != nil {
		return 0, fmt.Errorf("create board: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.db.rebind(`
INSERT INTO board_participants (board_id, account_id, role) VALUES (?, ?, ?)`),
		id, ownerID, int(domain.RoleOwner)); err != nil {
		return 0, fmt.Errorf("create board: owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("create board: commit: %w", err)
	}
	return id, nil
}

// SetParticipant adds accountID to the board or changes its role.
func (s *GoalStore) SetParticipant(ctx context.Context, boardID, accountID int64, role domain.Role) error {
	_, err := s.db.db.ExecContext(ctx, s.db.rebind(`
INSERT INTO board_participants (board_id, account_id, role) VALUES (?, ?, ?)
ON CONFLICT (board_id, account_id) DO UPDATE SET role = excluded.role`),
		boardID, accountID, int(role))
	if err != nil {
		return fmt.Errorf("set participant: %w", err)
	}
	return nil
}

func (s *GoalStore) CreateCategory(ctx context.Context, boardID, accountID int64, title string) (domain.Category, error) {
	var id int64
	err := s.db.db.QueryRowContext(ctx, s.db.rebind(`
INSERT INTO goal_categories (board_id, account_id, title) VALUES (?, ?, ?) RETURNING id`),
		boardID, accountID, title).Scan(&id)
	if err != nil {
		return domain.Category{}, fmt.Errorf("create category: %w", err)
	}
	return domain.Category{ID: id, BoardID: boardID, Title: title}, nil
}

// DeleteCategory soft-deletes a category.
func (s *GoalStore) DeleteCategory(ctx context.Context, categoryID int64) error {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`UPDATE goal_categories SET is_deleted = ? WHERE id = ?`), true, categoryID)
	if err != nil {
		return fmt.Errorf("delete category %d: %w", categoryID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBoard soft-deletes a board, hiding its categories from writers.
func (s *GoalStore) DeleteBoard(ctx context.Context, boardID int64) error {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`UPDATE boards SET is_deleted = ? WHERE id = ?`), true, boardID)
	if err != nil {
		return fmt.Errorf("delete board %d: %w", boardID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
