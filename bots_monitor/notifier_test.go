package bots_monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"kol-monitor/internal/features/watcher"
	"kol-monitor/internal/infra/retry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Options{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestTelegramNotifierSendsToNumericChat(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, fastRetry)

	err := n.Send(context.Background(), watcher.NotificationMessage{Destination: "-100987", Text: "hello"})
	require.NoError(t, err)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(-100987), msgs[0].ChatID)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[0].DisableWebPagePreview)
}

func TestTelegramNotifierSendsToChannelUsername(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, fastRetry)

	require.NoError(t, n.Send(context.Background(), watcher.NotificationMessage{Destination: "@kol_alerts", Text: "hi"}))
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "@kol_alerts", msgs[0].ChannelUsername)
}

func TestTelegramNotifierRejectsBadDestination(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, fastRetry)

	err := n.Send(context.Background(), watcher.NotificationMessage{Destination: "not-a-chat", Text: "x"})
	require.Error(t, err)
	assert.Empty(t, sender.messages())
}

func TestTelegramNotifierRetriesThrottling(t *testing.T) {
	throttled := &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
	sender := &fakeSender{errs: []error{throttled, throttled}}
	n := NewTelegramNotifier(sender, fastRetry)

	require.NoError(t, n.Send(context.Background(), watcher.NotificationMessage{Destination: "1", Text: "x"}))
	assert.Len(t, sender.messages(), 3)
}

func TestTelegramNotifierDoesNotRetryPermanentErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}}}
	n := NewTelegramNotifier(sender, fastRetry)

	err := n.Send(context.Background(), watcher.NotificationMessage{Destination: "1", Text: "x"})
	require.Error(t, err)
	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 400, se.StatusCode)
	assert.Len(t, sender.messages(), 1)
}
