package watcher

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"kol-monitor/internal/infra/log"

	"go.uber.org/zap"
)

var ErrSupervisorClosed = errors.New("supervisor is shut down")

// Supervisor owns the running monitors: at most one per address for the
// lifetime of the process.
type Supervisor struct {
	endpoints Endpoints
	fetcher   SignatureFetcher
	ledger    Ledger
	notifier  Notifier
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type task struct {
	monitor *Monitor
	done    chan struct{}
}

func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func NewSupervisor(endpoints Endpoints, fetcher SignatureFetcher, ledger Ledger, notifier Notifier, opts Options) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		endpoints: endpoints,
		fetcher:   fetcher,
		ledger:    ledger,
		notifier:  notifier,
		opts:      opts.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*task),
	}
}

// Start spawns a monitor for every non-empty address that has none yet and
// returns how many were started. Calling it again with the same addresses is
// a no-op.
func (s *Supervisor) Start(addresses []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSupervisorClosed
	}

	started := 0
	for _, raw := range addresses {
		address := strings.TrimSpace(raw)
		if address == "" {
			continue
		}
		if _, ok := s.tasks[address]; ok {
			continue
		}

		t := &task{
			monitor: NewMonitor(address, s.endpoints, s.fetcher, s.ledger, s.notifier, s.opts),
			done:    make(chan struct{}),
		}
		s.tasks[address] = t
		started++

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				close(t.done)
				s.opts.Recorder.MonitorsActive(s.activeLocked())
				s.mu.Unlock()
			}()
			t.monitor.Run(s.ctx)
		}()
	}

	if started > 0 {
		s.opts.Recorder.MonitorsActive(s.activeLocked())
		log.LogSuccess("Monitoring started",
			zap.Int("new_monitors", started),
			zap.Int("total_monitors", len(s.tasks)))
	}
	return started, nil
}

// Shutdown cancels every monitor and waits for them to return or for ctx to
// end, whichever comes first. Further Start calls fail.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.LogInfo("All address monitors stopped")
		return nil
	case <-ctx.Done():
		log.LogWarn("Timeout waiting for address monitors to stop", zap.Int("still_running", s.Active()))
		return ctx.Err()
	}
}

// Active returns the number of monitors whose loop is still running.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Supervisor) activeLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.running() {
			n++
		}
	}
	return n
}

// Addresses returns every address a monitor was started for, sorted.
func (s *Supervisor) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for address := range s.tasks {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// Monitor returns the monitor bound to address.
func (s *Supervisor) Monitor(address string) (*Monitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[address]
	if !ok {
		return nil, false
	}
	return t.monitor, true
}
