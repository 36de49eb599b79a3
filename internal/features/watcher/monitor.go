package watcher

import (
	"context"
	"sync/atomic"
	"time"

	"kol-monitor/internal/features/rpc_pool"
	"kol-monitor/internal/infra/log"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultRetryInterval = 5 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
)

// State is the position of a monitor in its polling loop.
type State int32

const (
	StatePolling State = iota
	StateNotifying
	StateRecovering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateNotifying:
		return "notifying"
	case StateRecovering:
		return "recovering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options are shared by every monitor a Supervisor starts.
type Options struct {
	Destination   string        // sink destination, e.g. a Telegram chat id
	PollInterval  time.Duration // pause after a successful cycle
	RetryInterval time.Duration // pause after a failed cycle, once the pool has rotated
	FetchTimeout  time.Duration // upper bound on one signature fetch
	Formatter     Formatter
	Recorder      Recorder
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Formatter == nil {
		o.Formatter = DefaultFormatter
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Monitor polls one address. It owns no dedup or endpoint state; both live in
// the shared Ledger and Endpoints.
type Monitor struct {
	address   string
	endpoints Endpoints
	fetcher   SignatureFetcher
	ledger    Ledger
	notifier  Notifier
	opts      Options

	state    atomic.Int32
	cycles   atomic.Uint64
	failures atomic.Uint64
}

func NewMonitor(address string, endpoints Endpoints, fetcher SignatureFetcher, ledger Ledger, notifier Notifier, opts Options) *Monitor {
	m := &Monitor{
		address:   address,
		endpoints: endpoints,
		fetcher:   fetcher,
		ledger:    ledger,
		notifier:  notifier,
		opts:      opts.withDefaults(),
	}
	m.state.Store(int32(StateStopped))
	return m
}

func (m *Monitor) Address() string { return m.address }

func (m *Monitor) State() State { return State(m.state.Load()) }

// Cycles is the number of completed successful poll cycles.
func (m *Monitor) Cycles() uint64 { return m.cycles.Load() }

// Failures is the number of cycles that ended in recovery.
func (m *Monitor) Failures() uint64 { return m.failures.Load() }

func (m *Monitor) setState(s State) { m.state.Store(int32(s)) }

// Run drives the polling state machine until ctx is cancelled:
//
//	polling -> notifying -> (poll interval) -> polling
//	polling -> recovering -> rotate, (retry interval) -> polling
func (m *Monitor) Run(ctx context.Context) {
	log.LogInfo("Address monitor started", zap.String("address", m.address))
	defer func() {
		m.setState(StateStopped)
		log.LogInfo("Address monitor stopped", zap.String("address", m.address))
	}()

	var (
		pending  []string
		endpoint rpc_pool.Endpoint
		lastErr  error
	)

	m.setState(StatePolling)
	for ctx.Err() == nil {
		switch m.State() {
		case StatePolling:
			endpoint = m.endpoints.Current()
			sigs, err := m.fetch(ctx, endpoint)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				lastErr = err
				m.setState(StateRecovering)
				continue
			}
			pending = sigs
			m.setState(StateNotifying)

		case StateNotifying:
			m.dispatch(ctx, pending)
			pending = nil
			m.cycles.Add(1)
			if !sleep(ctx, m.opts.PollInterval) {
				return
			}
			m.setState(StatePolling)

		case StateRecovering:
			m.failures.Add(1)
			m.opts.Recorder.RPCError(endpoint.String())
			next := m.endpoints.Rotate()
			m.opts.Recorder.Rotated(next.String())
			log.LogWarn("Error monitoring address, switching RPC node",
				zap.String("address", m.address),
				zap.String("failed_endpoint", endpoint.String()),
				zap.String("next_endpoint", next.String()),
				zap.Error(lastErr))
			lastErr = nil
			if !sleep(ctx, m.opts.RetryInterval) {
				return
			}
			m.setState(StatePolling)

		default:
			return
		}
	}
}

func (m *Monitor) fetch(ctx context.Context, endpoint rpc_pool.Endpoint) ([]string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()
	return m.fetcher.FetchSignatures(fetchCtx, endpoint, m.address)
}

// dispatch notifies every signature the ledger has not seen, in the order
// given. A signature is recorded before its notification is sent.
func (m *Monitor) dispatch(ctx context.Context, signatures []string) {
	for _, sig := range signatures {
		if ctx.Err() != nil {
			return
		}
		if !m.ledger.MarkIfNew(m.address, sig) {
			continue
		}
		m.opts.Recorder.NewSignature(m.address)

		err := m.notifier.Send(ctx, NotificationMessage{
			Destination: m.opts.Destination,
			Text:        m.opts.Formatter(m.address, sig),
		})
		m.opts.Recorder.Notified(m.address, err)
		if err != nil {
			log.LogError("Failed to send transaction notification",
				zap.String("address", m.address),
				zap.String("signature", sig),
				zap.Error(err))
			continue
		}
		log.LogDebug("Transaction notification sent",
			zap.String("address", m.address),
			zap.String("signature", sig))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
