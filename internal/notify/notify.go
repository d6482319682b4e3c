// Package notify delivers operator alerts over Telegram. Delivery is best
// effort: a failed send is logged and dropped, never propagated into the
// trading path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the alert sink used by the trading engine.
type Notifier interface {
	Broadcast(ctx context.Context, text string)
}

// Telegram sends messages through the Bot API to a fixed set of chats.
type Telegram struct {
	baseURL string
	token   string
	chatIDs []string
	client  *http.Client
	logger  zerolog.Logger
}

var _ Notifier = (*Telegram)(nil)

func NewTelegram(token string, chatIDs []string, logger zerolog.Logger) *Telegram {
	return &Telegram{
		baseURL: "https://api.telegram.org",
		token:   token,
		chatIDs: chatIDs,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// WithBaseURL overrides the API host, for tests.
func (t *Telegram) WithBaseURL(u string) *Telegram {
	t.baseURL = u
	return t
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Broadcast delivers text to every configured chat. Per-chat failures are
// logged and do not stop delivery to the remaining chats.
func (t *Telegram) Broadcast(ctx context.Context, text string) {
	for _, chatID := range t.chatIDs {
		if err := t.send(ctx, chatID, text); err != nil {
			t.logger.Warn().Err(err).Str("chat_id", chatID).Msg("telegram send failed")
		}
	}
}

// Send delivers text to a single chat, typically to answer the operator who
// issued a command rather than alert the whole roster.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	return t.send(ctx, chatID, text)
}

func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram api: %s", parsed.Description)
	}
	return nil
}

// Recorder is a Notifier that captures messages for assertions.
type Recorder struct {
	mu       sync.Mutex
	Messages []string
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) Broadcast(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, text)
}

func (r *Recorder) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Messages))
	copy(out, r.Messages)
	return out
}

// Discard is a Notifier that drops everything.
type Discard struct{}

var _ Notifier = Discard{}

func (Discard) Broadcast(context.Context, string) {}
