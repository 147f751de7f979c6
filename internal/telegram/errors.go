package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TransportError is a failed round trip to the Bot API: the network call
// failed, the server answered with a non-2xx status and no usable body, or
// the envelope carried ok=false. In the last case Err is a *tgbotapi.Error.
type TransportError struct {
	Method     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("telegram %s: status %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RetryAfter is the wait the server asked for, if any.
func (e *TransportError) RetryAfter() time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(e.Err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// ProtocolDecodeError means the server answered but the payload did not
// have the expected shape.
type ProtocolDecodeError struct {
	Method string
	Err    error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("telegram %s: decode response: %v", e.Method, e.Err)
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Err }

// Retryable reports whether a failed call is worth repeating and how long
// the server asked to wait. Network failures are not retried because the
// request may have been delivered.
func Retryable(err error) (time.Duration, bool) {
	var te *TransportError
	if !errors.As(err, &te) {
		return 0, false
	}
	if d := te.RetryAfter(); d > 0 {
		return d, true
	}
	return 0, te.StatusCode == http.StatusTooManyRequests || te.StatusCode >= 500
}
