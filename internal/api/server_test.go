package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"goals-telegram/internal/contracts"
	"goals-telegram/internal/domain"
	"goals-telegram/internal/storage"
)

type fakeAccounts struct {
	users map[string]string
	err   error
}

func (f *fakeAccounts) Authenticate(_ context.Context, username, password string) (domain.Account, error) {
	if f.err != nil {
		return domain.Account{}, f.err
	}
	if pw, ok := f.users[username]; ok && pw == password {
		return domain.Account{ID: 7, Username: username}, nil
	}
	return domain.Account{}, storage.ErrInvalidCredentials
}

type fakeIdentities struct {
	mu      sync.Mutex
	byCode  map[string]domain.ChatIdentity
	linkErr error
	links   map[int64]int64
}

func newFakeIdentities(idents ...domain.ChatIdentity) *fakeIdentities {
	f := &fakeIdentities{byCode: map[string]domain.ChatIdentity{}, links: map[int64]int64{}}
	for _, ident := range idents {
		f.byCode[ident.VerificationCode] = ident
	}
	return f
}

func (f *fakeIdentities) GetByVerificationCode(_ context.Context, code string) (domain.ChatIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.byCode[code]
	if !ok {
		return domain.ChatIdentity{}, storage.ErrNotFound
	}
	return ident, nil
}

func (f *fakeIdentities) Link(_ context.Context, chatID, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return f.linkErr
	}
	f.links[chatID] = accountID
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string) (*tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	if f.err != nil {
		return nil, f.err
	}
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func verifyRequest(body string, withAuth bool) *http.Request {
	req := httptest.NewRequest(http.MethodPatch, "/bot/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if withAuth {
		req.SetBasicAuth("alice", "secret")
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) contracts.APIError {
	t.Helper()
	var resp contracts.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body %q: %v", rec.Body.String(), err)
	}
	if resp.OK {
		t.Fatalf("expected ok=false in %s", rec.Body.String())
	}
	return resp.Error
}

func unlinked(chatID int64, code string) domain.ChatIdentity {
	return domain.ChatIdentity{ChatID: chatID, DisplayName: "bob", VerificationCode: code, Account: domain.Unlinked()}
}

func TestVerify_Success(t *testing.T) {
	idents := newFakeIdentities(unlinked(555, "c0de"))
	notifier := &fakeNotifier{}
	srv := NewServer(&fakeAccounts{users: map[string]string{"alice": "secret"}}, idents, notifier, nil, quietLogger())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, verifyRequest(`{"verification_code":"c0de"}`, true))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp contracts.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp != (contracts.VerifyResponse{TgID: 555, Username: "bob", UserID: 7}) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if idents.links[555] != 7 {
		t.Fatalf("expected chat 555 linked to account 7, got %v", idents.links)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != MsgVerificationSucceeded {
		t.Fatalf("expected success notice, got %v", notifier.sent)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestVerify_NotifyFailureIsNotFatal(t *testing.T) {
	idents := newFakeIdentities(unlinked(555, "c0de"))
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	srv := NewServer(&fakeAccounts{users: map[string]string{"alice": "secret"}}, idents, notifier, nil, quietLogger())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, verifyRequest(`{"verification_code":"c0de"}`, true))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one send attempt, got %d", len(notifier.sent))
	}
}

func TestVerify_ErrorPaths(t *testing.T) {
	linked := domain.ChatIdentity{ChatID: 9, VerificationCode: "used", Account: domain.LinkedTo(3)}
	cases := []struct {
		name       string
		req        *http.Request
		accounts   *fakeAccounts
		linkErr    error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "wrong method",
			req:        httptest.NewRequest(http.MethodPost, "/bot/verify", strings.NewReader(`{}`)),
			wantStatus: http.StatusMethodNotAllowed,
			wantCode:   contracts.ErrValidationInvalidRequest,
		},
		{
			name:       "missing credentials",
			req:        verifyRequest(`{"verification_code":"c0de"}`, false),
			wantStatus: http.StatusUnauthorized,
			wantCode:   contracts.ErrAuthUnauthorized,
		},
		{
			name:       "bad password",
			req:        verifyRequest(`{"verification_code":"c0de"}`, true),
			accounts:   &fakeAccounts{users: map[string]string{"alice": "other"}},
			wantStatus: http.StatusUnauthorized,
			wantCode:   contracts.ErrAuthUnauthorized,
		},
		{
			name:       "account store down",
			req:        verifyRequest(`{"verification_code":"c0de"}`, true),
			accounts:   &fakeAccounts{err: errors.New("db down")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   contracts.ErrInternal,
		},
		{
			name:       "unknown field",
			req:        verifyRequest(`{"verification_code":"c0de","extra":1}`, true),
			wantStatus: http.StatusBadRequest,
			wantCode:   contracts.ErrValidationInvalidRequest,
		},
		{
			name:       "oversized body",
			req:        verifyRequest(`{"verification_code":"`+strings.Repeat("a", maxRequestBytes)+`"}`, true),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   contracts.ErrValidationInvalidRequest,
		},
		{
			name:       "empty code",
			req:        verifyRequest(`{"verification_code":""}`, true),
			wantStatus: http.StatusBadRequest,
			wantCode:   contracts.ErrValidationRequiredField,
		},
		{
			name:       "unknown code",
			req:        verifyRequest(`{"verification_code":"nope"}`, true),
			wantStatus: http.StatusBadRequest,
			wantCode:   contracts.ErrVerificationInvalidCode,
		},
		{
			name:       "identity already linked",
			req:        verifyRequest(`{"verification_code":"used"}`, true),
			wantStatus: http.StatusConflict,
			wantCode:   contracts.ErrVerificationAlreadyLinked,
		},
		{
			name:       "linked concurrently",
			req:        verifyRequest(`{"verification_code":"c0de"}`, true),
			linkErr:    storage.ErrAlreadyLinked,
			wantStatus: http.StatusConflict,
			wantCode:   contracts.ErrVerificationAlreadyLinked,
		},
		{
			name:       "link fails",
			req:        verifyRequest(`{"verification_code":"c0de"}`, true),
			linkErr:    errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   contracts.ErrInternal,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			accounts := tc.accounts
			if accounts == nil {
				accounts = &fakeAccounts{users: map[string]string{"alice": "secret"}}
			}
			idents := newFakeIdentities(unlinked(555, "c0de"), linked)
			idents.linkErr = tc.linkErr
			notifier := &fakeNotifier{}
			srv := NewServer(accounts, idents, notifier, nil, quietLogger())

			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, tc.req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d want=%d body=%s", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec).Code; got != tc.wantCode {
				t.Fatalf("code=%s want=%s", got, tc.wantCode)
			}
			if len(notifier.sent) != 0 {
				t.Fatalf("expected no notice, got %v", notifier.sent)
			}
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := NewServer(&fakeAccounts{}, newFakeIdentities(), nil, nil, quietLogger())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected health body %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "goals_bot_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := NewServer(&fakeAccounts{}, newFakeIdentities(), nil, reg, quietLogger())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "goals_bot_test_total 1") {
		t.Fatalf("metric missing from %s", rec.Body.String())
	}

	bare := NewServer(&fakeAccounts{}, newFakeIdentities(), nil, nil, quietLogger())
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without gatherer, got %d", rec.Code)
	}
}
