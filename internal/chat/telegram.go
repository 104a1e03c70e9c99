// Package chat talks to users through the Telegram Bot API.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

type Telegram struct {
	client *resty.Client
	log    *slog.Logger
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

// APIError is a request the Bot API answered with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

func NewTelegram(config *Config) *Telegram {
	baseURL := fmt.Sprintf("%s/bot%s", strings.TrimRight(config.APIURL, "/"),
		config.Token)

	return &Telegram{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(config.Timeout).
			SetHeader("Content-Type", "application/json"),
		log: slog.With("component", "telegram"),
	}
}

// SendMessage sends a text message and returns its id.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) (
	int64, error) {

	var out apiResponse[message]

	err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, &out)
	if err != nil {
		return 0, err
	}

	return out.Result.MessageID, nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	var out apiResponse[bool]

	return t.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, &out)
}

func (t *Telegram) call(ctx context.Context, method string, body any,
	out interface{ status() (bool, int, string) }) error {

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(out).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	ok, code, description := out.status()
	if !ok {
		if code == 0 {
			code = resp.StatusCode()
		}

		return &APIError{Method: method, Code: code, Description: description}
	}

	t.log.Debug("Bot API call", "method", method, "status", resp.StatusCode())

	return nil
}

func (r *apiResponse[T]) status() (bool, int, string) {
	return r.OK, r.ErrorCode, r.Description
}
