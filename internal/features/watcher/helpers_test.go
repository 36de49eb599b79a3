package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kol-monitor/internal/features/rpc_pool"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 2 * time.Millisecond
)

type fetcherFunc func(ctx context.Context, endpoint rpc_pool.Endpoint, address string) ([]string, error)

func (f fetcherFunc) FetchSignatures(ctx context.Context, endpoint rpc_pool.Endpoint, address string) ([]string, error) {
	return f(ctx, endpoint, address)
}

// recordingNotifier keeps every message it was asked to send.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []NotificationMessage
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg NotificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) messages() []NotificationMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationMessage, len(n.msgs))
	copy(out, n.msgs)
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// countingEndpoints wraps a pool and counts rotations.
type countingEndpoints struct {
	*rpc_pool.Pool
	rotations atomic.Int64
}

func (c *countingEndpoints) Rotate() rpc_pool.Endpoint {
	c.rotations.Add(1)
	return c.Pool.Rotate()
}

func newPool(t *testing.T, n int) *rpc_pool.Pool {
	t.Helper()
	all := []rpc_pool.Endpoint{"https://e0.test", "https://e1.test", "https://e2.test", "https://e3.test"}
	p, err := rpc_pool.New(all[:n], nil, rpc_pool.Options{ProbeDelay: time.Millisecond})
	require.NoError(t, err)
	return p
}

func fastOptions() Options {
	return Options{
		Destination:   "chat-1",
		PollInterval:  5 * time.Millisecond,
		RetryInterval: time.Millisecond,
		FetchTimeout:  time.Second,
	}
}

// runMonitor starts m in the background; the returned func cancels it and
// waits for Run to return.
func runMonitor(t *testing.T, m *Monitor) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Fatalf("monitor for %s did not stop", m.Address())
		}
	}
	t.Cleanup(stop)
	return stop
}
