package bots_monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kol-monitor/internal/features/watcher"
	"kol-monitor/internal/infra/retry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier delivers watcher notifications to a Telegram chat.
// Throttling and 5xx answers from the Bot API are retried here; anything else
// is returned to the monitor, which logs it and moves on.
type TelegramNotifier struct {
	sender Sender
	retry  retry.Options
}

func NewTelegramNotifier(sender Sender, opts retry.Options) *TelegramNotifier {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &TelegramNotifier{sender: sender, retry: opts}
}

func (n *TelegramNotifier) Send(ctx context.Context, msg watcher.NotificationMessage) error {
	cfg, err := newMessage(msg.Destination, msg.Text)
	if err != nil {
		return err
	}
	cfg.DisableWebPagePreview = true

	err = retry.Do(ctx, n.retry, func() error {
		_, err := n.sender.Send(cfg)
		return retry.FromTelegram(err)
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message to %s: %w", msg.Destination, err)
	}
	return nil
}

// newMessage accepts a numeric chat id or an @channel username.
func newMessage(destination, text string) (tgbotapi.MessageConfig, error) {
	destination = strings.TrimSpace(destination)
	if strings.HasPrefix(destination, "@") && len(destination) > 1 {
		return tgbotapi.NewMessageToChannel(destination, text), nil
	}
	chatID, err := parseChatID(destination)
	if err != nil {
		return tgbotapi.MessageConfig{}, err
	}
	return tgbotapi.NewMessage(chatID, text), nil
}

func parseChatID(chatIDStr string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatIDStr), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatIDStr, err)
	}
	return chatID, nil
}

func formatChatID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
