// Package contracts holds the JSON shapes exchanged over the bot's HTTP API.
package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const (
	ErrValidationInvalidRequest  = "ERR_VALIDATION_INVALID_REQUEST"
	ErrValidationRequiredField   = "ERR_VALIDATION_REQUIRED_FIELD"
	ErrAuthUnauthorized          = "ERR_AUTH_UNAUTHORIZED"
	ErrVerificationInvalidCode   = "ERR_VERIFICATION_INVALID_CODE"
	ErrVerificationAlreadyLinked = "ERR_VERIFICATION_ALREADY_LINKED"
	ErrInternal                  = "ERR_INTERNAL"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	OK    bool     `json:"ok"`
	Error APIError `json:"error"`
}

type VerifyRequest struct {
	VerificationCode string `json:"verification_code"`
}

type VerifyResponse struct {
	TgID     int64  `json:"tg_id"`
	Username string `json:"username"`
	UserID   int64  `json:"user_id"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

func DecodeStrictJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple JSON values are not allowed")
	}
	return nil
}

func DecodeRequestStrict[T any](data []byte) (T, error) {
	var out T
	if err := DecodeStrictJSON(data, &out); err != nil {
		return out, APIError{Code: ErrValidationInvalidRequest, Message: err.Error()}
	}
	return out, nil
}

func ValidateVerifyRequest(req VerifyRequest) error {
	if strings.TrimSpace(req.VerificationCode) == "" {
		return APIError{Code: ErrValidationRequiredField, Message: "verification_code is required"}
	}
	return nil
}
