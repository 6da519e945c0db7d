package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/retry"
)

// Sender delivers one formatted message to the destination channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// TelegramSender posts HTML messages to a Telegram chat via the Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	client  *http.Client
	retries retry.Config
}

func NewTelegramSender(token, chatID string, timeout time.Duration) *TelegramSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: timeout},
		retries: retry.Config{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Backoff:     true,
		},
	}
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	return retry.Do(ctx, s.retries, func() error {
		return s.sendOnce(ctx, text)
	})
}

func (s *TelegramSender) sendOnce(ctx context.Context, text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.token)

	payload := map[string]interface{}{
		"chat_id":                  s.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API status %d", resp.StatusCode)
	}
	return nil
}
