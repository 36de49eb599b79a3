package retry

// Retry with exponential backoff and full jitter for outbound Telegram calls.
// Only throttling (429) and server-side (5xx) failures are retried; a
// Retry-After hint from the API takes precedence over the jitter delay.

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// StatusError is a failed call with an HTTP-like status code.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e == nil {
		return "status error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("status error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("status error (%d): %s", e.StatusCode, e.Message)
}

// FromTelegram converts a *tgbotapi.Error into a *StatusError so the retry
// loop can read its code and retry_after. Other errors are returned as is.
func FromTelegram(err error) error {
	var te *tgbotapi.Error
	if !errors.As(err, &te) {
		return err
	}
	se := &StatusError{StatusCode: te.Code, Message: te.Message}
	if te.RetryAfter > 0 {
		se.RetryAfter = time.Duration(te.RetryAfter) * time.Second
	}
	return se
}

func IsRetryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func clamp(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// FullJitterSleep returns a random delay in [0, min(base<<attempt, max)].
func FullJitterSleep(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if baseDelay <= 0 {
		return 0
	}
	capped := clamp(baseDelay<<attempt, maxDelay)
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(capped) + 1))
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done.
func Do(ctx context.Context, opts Options, fn func() error) error {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 300 * time.Millisecond
	}

	attempts := 1 + opts.MaxRetries
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}

		sleep := FullJitterSleep(attempt, opts.BaseDelay, opts.MaxDelay)
		var se *StatusError
		if errors.As(lastErr, &se) && se.StatusCode == 429 && se.RetryAfter > 0 {
			sleep = clamp(se.RetryAfter, opts.MaxDelay)
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	return lastErr
}
