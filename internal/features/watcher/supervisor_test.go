package watcher

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kol-monitor/internal/features/ledger"
	"kol-monitor/internal/features/rpc_pool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activeRecorder struct {
	nopRecorder
	active atomic.Int64
}

func (r *activeRecorder) MonitorsActive(n int) { r.active.Store(int64(n)) }

func quietFetcher() SignatureFetcher {
	return fetcherFunc(func(context.Context, rpc_pool.Endpoint, string) ([]string, error) {
		return nil, nil
	})
}

func shutdown(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestSupervisorStartIsIdempotentOverUnion(t *testing.T) {
	recorder := &activeRecorder{}
	opts := fastOptions()
	opts.Recorder = recorder
	s := NewSupervisor(newPool(t, 2), quietFetcher(), ledger.New(), &recordingNotifier{}, opts)
	t.Cleanup(func() { shutdown(t, s) })

	n, err := s.Start([]string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Start([]string{"B", " C ", "", "   ", "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 3, s.Active())
	assert.Equal(t, []string{"A", "B", "C"}, s.Addresses())
	assert.Equal(t, int64(3), recorder.active.Load())

	m, ok := s.Monitor("C")
	require.True(t, ok)
	assert.Equal(t, "C", m.Address())
	_, ok = s.Monitor("D")
	assert.False(t, ok)
}

func TestSupervisorShutdownStopsEverything(t *testing.T) {
	recorder := &activeRecorder{}
	opts := fastOptions()
	opts.PollInterval = time.Hour
	opts.Recorder = recorder
	s := NewSupervisor(newPool(t, 1), quietFetcher(), ledger.New(), &recordingNotifier{}, opts)

	_, err := s.Start([]string{"A", "B", "C"})
	require.NoError(t, err)

	for _, address := range []string{"A", "B", "C"} {
		m, _ := s.Monitor(address)
		require.Eventually(t, func() bool { return m.Cycles() == 1 }, waitFor, tick)
	}

	start := time.Now()
	shutdown(t, s)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, s.Active())
	assert.Equal(t, int64(0), recorder.active.Load())

	n, err := s.Start([]string{"D"})
	require.ErrorIs(t, err, ErrSupervisorClosed)
	assert.Zero(t, n)
}

func TestSupervisorShutdownIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// A fetcher that ignores cancellation models a stuck task.
	stuck := fetcherFunc(func(context.Context, rpc_pool.Endpoint, string) ([]string, error) {
		<-release
		return nil, nil
	})
	entered := make(chan struct{}, 1)
	fetcher := fetcherFunc(func(ctx context.Context, e rpc_pool.Endpoint, a string) ([]string, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		return stuck(ctx, e, a)
	})
	opts := fastOptions()
	opts.FetchTimeout = time.Hour
	s := NewSupervisor(newPool(t, 1), fetcher, ledger.New(), &recordingNotifier{}, opts)

	_, err := s.Start([]string{"A"})
	require.NoError(t, err)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.Active())
}

func TestSupervisorAddressesAreIndependent(t *testing.T) {
	var calls atomic.Int32
	fetcher := fetcherFunc(func(ctx context.Context, _ rpc_pool.Endpoint, address string) ([]string, error) {
		if address == "B" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		n := int(calls.Add(1))
		sigs := make([]string, 0, n)
		for i := n; i >= 1; i-- {
			sigs = append(sigs, "a"+strings.Repeat("x", i))
		}
		return sigs, nil
	})
	notifier := &recordingNotifier{}
	opts := fastOptions()
	opts.FetchTimeout = time.Hour
	s := NewSupervisor(newPool(t, 2), fetcher, ledger.New(), notifier, opts)

	_, err := s.Start([]string{"B", "A"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return notifier.count() >= 5 }, waitFor, tick)

	for _, msg := range notifier.messages() {
		assert.Contains(t, msg.Text, "Address: A")
	}
	b, _ := s.Monitor("B")
	assert.Equal(t, StatePolling, b.State())
	assert.Zero(t, b.Cycles())

	shutdown(t, s)
}
