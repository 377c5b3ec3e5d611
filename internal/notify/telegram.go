package notify

import (
	"context"
	"fmt"
)

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	httpSender
	token  string
	chatID string
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string, opts ...SenderOption) *TelegramSender {
	return &TelegramSender{
		httpSender: newHTTPSender("telegram", "https://api.telegram.org", opts),
		token:      token,
		chatID:     chatID,
	}
}

// Send posts a message using sendMessage. The title is rendered in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	return t.postJSON(ctx, url, map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
