// Package telegram is a small Bot API client for long polling and sending
// text messages. Payloads decode into the telegram-bot-api types.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	// pollGrace is added to the long-poll timeout for the HTTP deadline.
	pollGrace          = 10 * time.Second
	defaultSendTimeout = 30 * time.Second
	maxResponseBytes   = 8 << 20
)

// Update is one entry of a getUpdates batch. DecodeErr is set when the
// entry could not be decoded; UpdateID is still filled when it could be
// recovered so the caller can move past it.
type Update struct {
	tgbotapi.Update
	DecodeErr error
}

type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	sendTimeout time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithSendTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

func NewClient(token, baseURL string, opts ...ClientOption) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     baseURL,
		token:       token,
		http:        &http.Client{},
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchUpdates long-polls getUpdates for at most timeoutSeconds. An empty
// batch is not an error.
func (c *Client) FetchUpdates(ctx context.Context, offset, timeoutSeconds int) ([]Update, error) {
	if timeoutSeconds < 0 {
		timeoutSeconds = 0
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second+pollGrace)
	defer cancel()

	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("timeout", strconv.Itoa(timeoutSeconds))
	result, err := c.call(reqCtx, http.MethodGet, "getUpdates", q, nil)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, &ProtocolDecodeError{Method: "getUpdates", Err: err}
	}
	updates := make([]Update, 0, len(items))
	for _, item := range items {
		updates = append(updates, decodeUpdate(item))
	}
	return updates, nil
}

func decodeUpdate(raw json.RawMessage) Update {
	var u tgbotapi.Update
	err := json.Unmarshal(raw, &u)
	if err == nil {
		return Update{Update: u}
	}
	out := Update{DecodeErr: &ProtocolDecodeError{Method: "getUpdates", Err: err}}
	var id struct {
		UpdateID int `json:"update_id"`
	}
	if json.Unmarshal(raw, &id) == nil {
		out.UpdateID = id.UpdateID
	}
	return out
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*tgbotapi.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	result, err := c.call(ctx, http.MethodPost, "sendMessage", nil, sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return nil, err
	}
	var msg tgbotapi.Message
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, &ProtocolDecodeError{Method: "sendMessage", Err: err}
	}
	return &msg, nil
}

func (c *Client) call(ctx context.Context, httpMethod, method string, query url.Values, body any) (json.RawMessage, error) {
	endpoint := c.baseURL + "/bot" + c.token + "/" + method
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("telegram %s: encode request: %w", method, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, reader)
	if err != nil {
		return nil, &TransportError{Method: method, Err: stripURL(err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Err: stripURL(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Method: method, StatusCode: resp.StatusCode, Err: stripURL(err)}
	}

	// Ok shadows the embedded field so a body without "ok" is detectable.
	var env struct {
		Ok *bool `json:"ok"`
		tgbotapi.APIResponse
	}
	err = json.Unmarshal(raw, &env)
	if err == nil && env.Ok == nil {
		err = errMissingOK
	}
	if err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &TransportError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response %q", snippet(raw))}
		}
		return nil, &ProtocolDecodeError{Method: method, Err: err}
	}
	if !*env.Ok {
		apiErr := &tgbotapi.Error{Code: env.ErrorCode, Message: env.Description}
		if env.Parameters != nil {
			apiErr.ResponseParameters = *env.Parameters
		}
		return nil, &TransportError{Method: method, StatusCode: resp.StatusCode, Err: apiErr}
	}
	return env.Result, nil
}

var errMissingOK = errors.New(`response has no "ok" field`)

// stripURL drops the request URL, which carries the bot token, from
// net/http errors.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
