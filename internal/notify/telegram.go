package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts HTML formatted messages to one chat through the Bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegram(token, chatID string, timeout time.Duration) *Telegram {
	return NewTelegramWithBaseURL(telegramAPI, token, chatID, timeout)
}

// NewTelegramWithBaseURL points the notifier at a different API host.
func NewTelegramWithBaseURL(baseURL, token, chatID string, timeout time.Duration) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(telegramRequest{
		ChatID:    t.chatID,
		Text:      FormatHTML(msg),
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("encoding telegram message: %w", err)
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram send failed: %s", redact(err.Error(), t.token))
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("telegram status %d: decoding response: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !tr.OK {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, tr.Description)
	}
	return nil
}

// FormatHTML renders msg in Telegram's HTML subset. Every user supplied
// field is escaped.
func FormatHTML(msg Message) string {
	var b strings.Builder
	esc := html.EscapeString

	switch msg.Kind {
	case KindCompleted:
		b.WriteString("✅ <b>Transcription completed</b>\n\n")
	default:
		b.WriteString("❌ <b>Transcription failed</b>\n\n")
	}

	if msg.Upload {
		fmt.Fprintf(&b, "<b>File:</b> %s\n", esc(msg.Source))
	} else {
		if msg.Title != "" {
			fmt.Fprintf(&b, "<b>Title:</b> %s\n", esc(msg.Title))
		}
		fmt.Fprintf(&b, "<b>Link:</b> %s\n", esc(msg.Source))
	}

	if msg.Kind != KindCompleted && msg.Reason != "" {
		fmt.Fprintf(&b, "<b>Error:</b> %s\n", esc(msg.Reason))
	}
	if msg.Kind == KindCompleted && msg.DetailURL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">View transcript</a>", esc(msg.DetailURL))
	}
	return strings.TrimRight(b.String(), "\n")
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}

var _ Notifier = (*Telegram)(nil)
