package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kol-monitor/internal/features/ledger"
	"kol-monitor/internal/features/rpc_pool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signaturesOf(msgs []NotificationMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Text)
	}
	return out
}

func TestMonitorNotifiesOnlyNewSignaturesInOrder(t *testing.T) {
	var calls atomic.Int32
	fetcher := fetcherFunc(func(context.Context, rpc_pool.Endpoint, string) ([]string, error) {
		if calls.Add(1) == 1 {
			return []string{"s1", "s2", "s3"}, nil
		}
		return []string{"s2", "s3", "s4"}, nil
	})

	led := ledger.New()
	notifier := &recordingNotifier{}
	opts := fastOptions()
	opts.Formatter = func(_, sig string) string { return sig }

	m := NewMonitor("X", newPool(t, 3), fetcher, led, notifier, opts)
	stop := runMonitor(t, m)

	require.Eventually(t, func() bool { return m.Cycles() >= 4 }, waitFor, tick)
	stop()

	assert.Equal(t, []string{"s1", "s2", "s3", "s4"}, signaturesOf(notifier.messages()))
	assert.Equal(t, 4, led.Len("X"))
	for _, sig := range []string{"s1", "s2", "s3", "s4"} {
		assert.False(t, led.IsNew("X", sig))
	}
	assert.Equal(t, StateStopped, m.State())
}

func TestMonitorMessageCarriesDestinationAndDefaultText(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, rpc_pool.Endpoint, string) ([]string, error) {
		return []string{"5igSig"}, nil
	})
	notifier := &recordingNotifier{}

	m := NewMonitor("AddrX", newPool(t, 1), fetcher, ledger.New(), notifier, fastOptions())
	runMonitor(t, m)

	require.Eventually(t, func() bool { return notifier.count() == 1 }, waitFor, tick)
	msg := notifier.messages()[0]
	assert.Equal(t, "chat-1", msg.Destination)
	assert.Equal(t, "🔔 New transaction detected!\nAddress: AddrX\nSignature: 5igSig", msg.Text)
}

func TestMonitorEmptyHistoryIsANormalCycle(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, rpc_pool.Endpoint, string) ([]string, error) {
		return nil, nil
	})
	endpoints := &countingEndpoints{Pool: newPool(t, 2)}
	notifier := &recordingNotifier{}

	m := NewMonitor("X", endpoints, fetcher, ledger.New(), notifier, fastOptions())
	stop := runMonitor(t, m)

	require.Eventually(t, func() bool { return m.Cycles() >= 3 }, waitFor, tick)
	stop()

	assert.Zero(t, notifier.count())
	assert.Zero(t, endpoints.rotations.Load())
	assert.Zero(t, m.Failures())
	assert.Equal(t, 0, endpoints.Index())
}

func TestMonitorAlwaysFailingKeepsRotating(t *testing.T) {
	var mu sync.Mutex
	var visited []rpc_pool.Endpoint
	fetcher := fetcherFunc(func(_ context.Context, endpoint rpc_pool.Endpoint, _ string) ([]string, error) {
		mu.Lock()
		visited = append(visited, endpoint)
		mu.Unlock()
		return nil, errors.New("connection refused")
	})
	endpoints := &countingEndpoints{Pool: newPool(t, 3)}

	m := NewMonitor("X", endpoints, fetcher, ledger.New(), &recordingNotifier{}, fastOptions())
	stop := runMonitor(t, m)

	require.Eventually(t, func() bool { return m.Failures() >= 12 }, waitFor, tick)
	assert.NotEqual(t, StateStopped, m.State())
	stop()

	assert.Equal(t, int64(m.Failures()), endpoints.rotations.Load())
	assert.Zero(t, m.Cycles())

	mu.Lock()
	defer mu.Unlock()
	for i, endpoint := range visited {
		assert.Equal(t, rpc_pool.Endpoint(fmt.Sprintf("https://e%d.test", i%3)), endpoint, "fetch %d", i)
	}
}

func TestMonitorRecoversOnNextEndpoint(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, endpoint rpc_pool.Endpoint, _ string) ([]string, error) {
		if endpoint == "https://e0.test" {
			return nil, errors.New("503 service unavailable")
		}
		return []string{"s1"}, nil
	})
	endpoints := &countingEndpoints{Pool: newPool(t, 3)}
	notifier := &recordingNotifier{}

	m := NewMonitor("X", endpoints, fetcher, ledger.New(), notifier, fastOptions())
	stop := runMonitor(t, m)

	require.Eventually(t, func() bool { return m.Cycles() >= 2 }, waitFor, tick)
	stop()

	assert.Equal(t, int64(1), endpoints.rotations.Load())
	assert.Equal(t, rpc_pool.Endpoint("https://e1.test"), endpoints.Current())
	assert.Equal(t, 1, notifier.count())
}

func TestMonitorSinkFailureIsNotRetried(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, rpc_pool.Endpoint, string) ([]string, error) {
		return []string{"s1"}, nil
	})
	led := ledger.New()
	notifier := &recordingNotifier{err: errors.New("telegram unavailable")}

	m := NewMonitor("X", newPool(t, 1), fetcher, led, notifier, fastOptions())
	stop := runMonitor(t, m)

	require.Eventually(t, func() bool { return m.Cycles() >= 3 }, waitFor, tick)
	stop()

	assert.Equal(t, 1, notifier.count())
	assert.False(t, led.IsNew("X", "s1"))
	assert.Zero(t, m.Failures())
}

func TestMonitorCancelInterruptsInflightFetch(t *testing.T) {
	entered := make(chan struct{})
	fetcher := fetcherFunc(func(ctx context.Context, _ rpc_pool.Endpoint, _ string) ([]string, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	endpoints := &countingEndpoints{Pool: newPool(t, 2)}
	opts := fastOptions()
	opts.FetchTimeout = time.Hour

	m := NewMonitor("X", endpoints, fetcher, ledger.New(), &recordingNotifier{}, opts)
	stop := runMonitor(t, m)

	<-entered
	assert.Equal(t, StatePolling, m.State())
	stop()

	assert.Equal(t, StateStopped, m.State())
	assert.Zero(t, endpoints.rotations.Load())
}

func TestMonitorCancelInterruptsSleep(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, rpc_pool.Endpoint, string) ([]string, error) {
		return nil, nil
	})
	opts := fastOptions()
	opts.PollInterval = time.Hour

	m := NewMonitor("X", newPool(t, 1), fetcher, ledger.New(), &recordingNotifier{}, opts)
	stop := runMonitor(t, m)

	require.Eventually(t, func() bool { return m.Cycles() == 1 }, waitFor, tick)
	start := time.Now()
	stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "notifying", StateNotifying.String())
	assert.Equal(t, "recovering", StateRecovering.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
