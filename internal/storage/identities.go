package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"goals-telegram/internal/domain"
)

// IdentityStore persists the chat id to account binding in tg_users.
type IdentityStore struct {
	db *DB
}

func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db}
}

const identityColumns = `chat_id, username, verification_code, account_id`

func scanIdentity(row interface{ Scan(...any) error }) (domain.ChatIdentity, error) {
	var (
		ident     domain.ChatIdentity
		username  sql.NullString
		code      sql.NullString
		accountID sql.NullInt64
	)
	if err := row.Scan(&ident.ChatID, &username, &code, &accountID); err != nil {
		return domain.ChatIdentity{}, err
	}
	ident.DisplayName = username.String
	ident.VerificationCode = code.String
	if accountID.Valid {
		ident.Account = domain.LinkedTo(accountID.Int64)
	}
	return ident, nil
}

// GetByChatID returns ErrNotFound when the chat has never written.
func (s *IdentityStore) GetByChatID(ctx context.Context, chatID int64) (domain.ChatIdentity, error) {
	row := s.db.db.QueryRowContext(ctx, s.db.rebind(`SELECT `+identityColumns+` FROM tg_users WHERE chat_id = ?`), chatID)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatIdentity{}, ErrNotFound
	}
	if err != nil {
		return domain.ChatIdentity{}, fmt.Errorf("get identity %d: %w", chatID, err)
	}
	return ident, nil
}

// Create inserts an unlinked identity. created is false when another
// writer got there first.
func (s *IdentityStore) Create(ctx context.Context, chatID int64, displayName string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`
INSERT INTO tg_users (chat_id, username)
VALUES (?, ?)
ON CONFLICT (chat_id) DO NOTHING`), chatID, nullString(displayName))
	if err != nil {
		return false, fmt.Errorf("create identity %d: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create identity %d: %w", chatID, err)
	}
	return n == 1, nil
}

func (s *IdentityStore) SetVerificationCode(ctx context.Context, chatID int64, code string) error {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`UPDATE tg_users SET verification_code = ? WHERE chat_id = ?`), code, chatID)
	if err != nil {
		return fmt.Errorf("set verification code %d: %w", chatID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *IdentityStore) GetByVerificationCode(ctx context.Context, code string) (domain.ChatIdentity, error) {
	if code == "" {
		return domain.ChatIdentity{}, ErrNotFound
	}
	row := s.db.db.QueryRowContext(ctx, s.db.rebind(`SELECT `+identityColumns+` FROM tg_users WHERE verification_code = ?`), code)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatIdentity{}, ErrNotFound
	}
	if err != nil {
		return domain.ChatIdentity{}, fmt.Errorf("find identity by code: %w", err)
	}
	return ident, nil
}

// Link binds an unlinked chat to accountID and clears its code. Linking
// is one way: ErrAlreadyLinked is returned if the chat has an account.
func (s *IdentityStore) Link(ctx context.Context, chatID, accountID int64) error {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`
UPDATE tg_users SET account_id = ?, verification_code = NULL
WHERE chat_id = ? AND account_id IS NULL`), accountID, chatID)
	if err != nil {
		return fmt.Errorf("link identity %d: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link identity %d: %w", chatID, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetByChatID(ctx, chatID); err != nil {
		return err
	}
	return ErrAlreadyLinked
}
