package watcher

import (
	"context"

	"kol-monitor/internal/infra/log"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the application log instead of a chat.
// Used when running without Telegram.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg NotificationMessage) error {
	log.LogSuccess(msg.Text, zap.String("destination", msg.Destination))
	return nil
}
