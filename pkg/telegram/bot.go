package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.telegram.org"

type Bot struct {
	token   string
	baseURL string
	chatID  string
	client  *http.Client
}

func NewBot(token, chatID string, timeout time.Duration) *Bot {
	return NewBotWithURL(defaultAPIURL, token, chatID, timeout)
}

// NewBotWithURL points the bot at a different API host, e.g. a local stub.
func NewBotWithURL(apiURL, token, chatID string, timeout time.Duration) *Bot {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bot{
		token:   token,
		baseURL: strings.TrimRight(apiURL, "/") + "/bot" + token,
		chatID:  chatID,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID, text string) error {
	endpoint := b.baseURL + "/sendMessage"

	params := url.Values{}
	params.Add("chat_id", chatID)
	params.Add("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: %s", resp.Status)
	}

	return nil
}

// Alert sends text to the configured admin chat.
func (b *Bot) Alert(ctx context.Context, text string) error {
	if b == nil || b.chatID == "" {
		return nil
	}
	return b.SendMessage(ctx, b.chatID, text)
}
