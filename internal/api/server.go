// Package api serves the bot's inbound HTTP surface: account linking,
// health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goals-telegram/internal/contracts"
	"goals-telegram/internal/domain"
	"goals-telegram/internal/storage"
)

const MsgVerificationSucceeded = "Verification succeeded!"

const requestIDHeader = "X-Request-ID"

// maxRequestBytes caps request bodies read by decodeJSONBody.
const maxRequestBytes = 1 << 20

type Accounts interface {
	Authenticate(ctx context.Context, username, password string) (domain.Account, error)
}

type Identities interface {
	GetByVerificationCode(ctx context.Context, code string) (domain.ChatIdentity, error)
	Link(ctx context.Context, chatID, accountID int64) error
}

type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) (*tgbotapi.Message, error)
}

type Server struct {
	accounts   Accounts
	identities Identities
	notifier   Notifier
	logger     *slog.Logger
	mux        *http.ServeMux
}

// NewServer wires the routes. notifier and gatherer may be nil: without a
// notifier the chat is not told about the link, without a gatherer
// /metrics is not mounted.
func NewServer(accounts Accounts, identities Identities, notifier Notifier, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{accounts: accounts, identities: identities, notifier: notifier, logger: logger, mux: mux}
	mux.HandleFunc("/bot/verify", s.handleVerify)
	mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, contracts.APIError{Code: contracts.ErrValidationInvalidRequest, Message: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, contracts.HealthResponse{OK: true})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, contracts.APIError{Code: contracts.ErrValidationInvalidRequest, Message: "method not allowed"})
		return
	}
	account, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSONBody[contracts.VerifyRequest](w, r)
	if !ok {
		return
	}
	if err := contracts.ValidateVerifyRequest(req); err != nil {
		writeServerError(w, err)
		return
	}

	ctx := r.Context()
	ident, err := s.identities.GetByVerificationCode(ctx, strings.TrimSpace(req.VerificationCode))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusBadRequest, contracts.APIError{Code: contracts.ErrVerificationInvalidCode, Message: "unknown verification code"})
		return
	}
	if err != nil {
		s.logger.Error("verify lookup failed", "request_id", w.Header().Get(requestIDHeader), "error", err)
		writeServerError(w, err)
		return
	}
	if ident.Account.Linked() {
		writeError(w, http.StatusConflict, contracts.APIError{Code: contracts.ErrVerificationAlreadyLinked, Message: "chat is already linked"})
		return
	}
	if err := s.identities.Link(ctx, ident.ChatID, account.ID); err != nil {
		switch {
		case errors.Is(err, storage.ErrAlreadyLinked):
			writeError(w, http.StatusConflict, contracts.APIError{Code: contracts.ErrVerificationAlreadyLinked, Message: "chat is already linked"})
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusBadRequest, contracts.APIError{Code: contracts.ErrVerificationInvalidCode, Message: "unknown verification code"})
		default:
			s.logger.Error("verify link failed", "request_id", w.Header().Get(requestIDHeader), "chat_id", ident.ChatID, "error", err)
			writeServerError(w, err)
		}
		return
	}
	s.logger.Info("chat linked", "chat_id", ident.ChatID, "account_id", account.ID)

	if s.notifier != nil {
		if _, err := s.notifier.SendMessage(ctx, ident.ChatID, MsgVerificationSucceeded); err != nil {
			s.logger.Warn("verification notice not delivered", "chat_id", ident.ChatID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, contracts.VerifyResponse{
		TgID:     ident.ChatID,
		Username: ident.DisplayName,
		UserID:   account.ID,
	})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (domain.Account, bool) {
	username, password, ok := r.BasicAuth()
	if !ok || username == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="goals"`)
		writeError(w, http.StatusUnauthorized, contracts.APIError{Code: contracts.ErrAuthUnauthorized, Message: "missing credentials"})
		return domain.Account{}, false
	}
	account, err := s.accounts.Authenticate(r.Context(), username, password)
	if errors.Is(err, storage.ErrInvalidCredentials) {
		w.Header().Set("WWW-Authenticate", `Basic realm="goals"`)
		writeError(w, http.StatusUnauthorized, contracts.APIError{Code: contracts.ErrAuthUnauthorized, Message: "invalid credentials"})
		return domain.Account{}, false
	}
	if err != nil {
		s.logger.Error("authenticate failed", "request_id", w.Header().Get(requestIDHeader), "error", err)
		writeServerError(w, err)
		return domain.Account{}, false
	}
	return account, true
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var zero T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	body, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, contracts.APIError{Code: contracts.ErrValidationInvalidRequest, Message: "request body too large"})
		return zero, false
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, contracts.APIError{Code: contracts.ErrValidationInvalidRequest, Message: err.Error()})
		return zero, false
	}
	parsed, err := contracts.DecodeRequestStrict[T](body)
	if err != nil {
		apiErr, ok := err.(contracts.APIError)
		if !ok {
			apiErr = contracts.APIError{Code: contracts.ErrInternal, Message: err.Error()}
		}
		writeError(w, http.StatusBadRequest, apiErr)
		return zero, false
	}
	return parsed, true
}

// writeServerError maps contract errors to 400 and anything else to an
// opaque 500.
func writeServerError(w http.ResponseWriter, err error) {
	var apiErr contracts.APIError
	if errors.As(err, &apiErr) {
		writeError(w, http.StatusBadRequest, apiErr)
		return
	}
	writeError(w, http.StatusInternalServerError, contracts.APIError{Code: contracts.ErrInternal, Message: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, apiErr contracts.APIError) {
	writeJSON(w, status, contracts.ErrorResponse{OK: false, Error: apiErr})
}
