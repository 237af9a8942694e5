package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram sends notifications via the Telegram Bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// TelegramOption configures a Telegram presenter.
type TelegramOption func(*Telegram)

// WithBaseURL overrides the Bot API endpoint. Empty keeps the default.
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = c }
}

// NewTelegram creates a new Telegram presenter.
func NewTelegram(botToken, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  defaultTelegramBaseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type telegramSendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func (t *Telegram) Name() string { return "telegram" }

// Present sends the reminder as an HTML message to the configured chat.
func (t *Telegram) Present(ctx context.Context, n Notification) error {
	if t.botToken == "" || t.chatID == "" {
		return ErrUnsupported
	}

	payload := telegramSendRequest{
		ChatID:    t.chatID,
		Text:      telegramText(n),
		ParseMode: "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read telegram response: %w", err)
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return fmt.Errorf("failed to parse telegram response: %w", err)
	}

	if !tgResp.OK {
		return fmt.Errorf("telegram API error: %s", tgResp.Description)
	}

	return nil
}

// telegramText uses only the tags Telegram accepts: <b> <i>.
func telegramText(n Notification) string {
	var b strings.Builder
	b.WriteString("⏰ <b>")
	b.WriteString(html.EscapeString(n.Title))
	b.WriteString("</b>")
	if n.Repeat {
		b.WriteString(" <i>(reminder)</i>")
	}
	if n.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(n.Body))
	}
	return b.String()
}
