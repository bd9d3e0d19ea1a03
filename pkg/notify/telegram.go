package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TelegramNotifier pushes messages to a chat via the Telegram Bot API and
// can long-poll the same bot for operator commands.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
	logger   *logrus.Logger
}

// CommandHandler is invoked for each operator command received while
// polling. Its return value, if non-empty, is sent back as a reply.
type CommandHandler func(ctx context.Context, command string) string

func NewTelegramNotifier(botToken, chatID string, logger *logrus.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Notify sends the message and swallows any failure.
func (t *TelegramNotifier) Notify(text string) {
	if err := t.send(text); err != nil {
		t.logger.WithError(err).Warn("Failed to send Telegram notification")
	}
}

func (t *TelegramNotifier) send(text string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := t.client.Post(apiURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
	} `json:"message"`
}

// StartPolling long-polls getUpdates and feeds commands to the handler.
// Blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	offset := 0
	client := &http.Client{Timeout: 35 * time.Second}

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Telegram polling stopped")
			return
		default:
		}

		apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/getUpdates?offset=%d&timeout=30", t.botToken, offset)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			t.logger.WithError(err).Error("Failed to build polling request")
			return
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.WithError(err).Warn("Telegram polling request failed")
			time.Sleep(5 * time.Second)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.logger.WithError(err).Warn("Failed to read polling response")
			continue
		}

		var result struct {
			OK     bool             `json:"ok"`
			Result []telegramUpdate `json:"result"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			t.logger.WithError(err).Warn("Failed to decode polling response")
			continue
		}

		for _, update := range result.Result {
			offset = update.UpdateID + 1
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			command := strings.TrimSpace(update.Message.Text)
			t.logger.WithField("command", command).Info("Received Telegram command")
			if reply := handler(ctx, command); reply != "" {
				t.Notify(reply)
			}
		}
	}
}
