// Package identity maps Telegram chats to chat identities and issues the
// codes used to link them to accounts.
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"goals-telegram/internal/domain"
	"goals-telegram/internal/storage"
)

// Store is the persistence the resolver needs. storage.IdentityStore
// implements it.
type Store interface {
	GetByChatID(ctx context.Context, chatID int64) (domain.ChatIdentity, error)
	Create(ctx context.Context, chatID int64, displayName string) (bool, error)
	SetVerificationCode(ctx context.Context, chatID int64, code string) error
}

type Resolver struct {
	store   Store
	newCode func() string
	log     *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, newCode: NewVerificationCode, log: logger}
}

// NewVerificationCode returns 32 lowercase hex characters from a random
// UUID.
func NewVerificationCode() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// ResolveOrCreate returns the identity for chatID, creating an unlinked
// one on first contact. created reports whether this call inserted it.
func (r *Resolver) ResolveOrCreate(ctx context.Context, chatID int64, displayName string) (domain.ChatIdentity, bool, error) {
	ident, err := r.store.GetByChatID(ctx, chatID)
	if err == nil {
		return ident, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.ChatIdentity{}, false, fmt.Errorf("resolve chat %d: %w", chatID, err)
	}

	created, err := r.store.Create(ctx, chatID, displayName)
	if err != nil {
		return domain.ChatIdentity{}, false, fmt.Errorf("resolve chat %d: %w", chatID, err)
	}
	// re-read so a concurrent insert by another process wins consistently
	ident, err = r.store.GetByChatID(ctx, chatID)
	if err != nil {
		return domain.ChatIdentity{}, false, fmt.Errorf("resolve chat %d: reread: %w", chatID, err)
	}
	if created {
		r.log.Info("chat identity created", "chat_id", chatID)
	}
	return ident, created, nil
}

// IssueVerificationCode stores a fresh code on the identity, replacing
// any earlier one.
func (r *Resolver) IssueVerificationCode(ctx context.Context, ident *domain.ChatIdentity) (string, error) {
	code := r.newCode()
	if err := r.store.SetVerificationCode(ctx, ident.ChatID, code); err != nil {
		return "", fmt.Errorf("issue verification code for chat %d: %w", ident.ChatID, err)
	}
	ident.VerificationCode = code
	return code, nil
}
