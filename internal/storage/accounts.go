package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"goals-telegram/internal/domain"
)

type AccountStore struct {
	db *DB
}

func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db}
}

// Create adds an account with a hashed password.
func (s *AccountStore) Create(ctx context.Context, username, password string) (domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Account{}, fmt.Errorf("create account: username is required")
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	var id int64
	err = s.db.db.QueryRowContext(ctx, s.db.rebind(`
INSERT INTO accounts (username, password) VALUES (?, ?) RETURNING id`), username, hashed).Scan(&id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	return domain.Account{ID: id, Username: username}, nil
}

// Authenticate returns ErrInvalidCredentials for an unknown username or a
// wrong password.
func (s *AccountStore) Authenticate(ctx context.Context, username, password string) (domain.Account, error) {
	var (
		acc     domain.Account
		encoded string
	)
	err := s.db.db.QueryRowContext(ctx, s.db.rebind(`SELECT id, username, password FROM accounts WHERE username = ?`), username).
		Scan(&acc.ID, &acc.Username, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		burnPasswordCheck(password)
		return domain.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("authenticate: %w", err)
	}
	if !CheckPassword(password, encoded) {
		return domain.Account{}, ErrInvalidCredentials
	}
	return acc, nil
}
