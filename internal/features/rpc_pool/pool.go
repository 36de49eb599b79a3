package rpc_pool

// Package rpc_pool holds the ordered list of upstream RPC endpoints and the
// cursor that selects the active one. Rotation only advances the cursor, so a
// pool where every node is down keeps cycling instead of draining.

import (
	"context"
	"errors"
	"sync"
	"time"

	"kol-monitor/internal/infra/log"

	"go.uber.org/zap"
)

const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultProbeDelay   = 5 * time.Second
)

var (
	ErrEmptyPool           = errors.New("endpoint pool is empty")
	ErrNoEndpointReachable = errors.New("no endpoint reachable")
)

// Endpoint is the URL of an RPC node.
type Endpoint string

func (e Endpoint) String() string { return string(e) }

// Prober performs a lightweight reachability check against one endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint Endpoint) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, endpoint Endpoint) error

func (f ProberFunc) Probe(ctx context.Context, endpoint Endpoint) error { return f(ctx, endpoint) }

type Options struct {
	ProbeTimeout time.Duration // per-check timeout
	ProbeDelay   time.Duration // pause after a failed check before the next one
}

type Pool struct {
	endpoints []Endpoint
	prober    Prober
	opts      Options

	mu            sync.Mutex
	cursor        int
	lastKnownGood Endpoint
}

// New copies endpoints into a fixed-order pool with the cursor at 0.
func New(endpoints []Endpoint, prober Prober, opts Options) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyPool
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.ProbeDelay < 0 {
		opts.ProbeDelay = 0
	}

	list := make([]Endpoint, len(endpoints))
	copy(list, endpoints)

	return &Pool{
		endpoints: list,
		prober:    prober,
		opts:      opts,
	}, nil
}

// Current returns the endpoint under the cursor.
func (p *Pool) Current() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.cursor]
}

// Rotate advances the cursor by one, wrapping at the end of the list, and
// returns the new current endpoint. It does not contact the endpoint.
func (p *Pool) Rotate() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = (p.cursor + 1) % len(p.endpoints)
	return p.endpoints[p.cursor]
}

func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Pool) Len() int { return len(p.endpoints) }

// Endpoints returns a copy of the configured list in rotation order.
func (p *Pool) Endpoints() []Endpoint {
	out := make([]Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// LastKnownGood returns the endpoint that last passed a probe, if any.
func (p *Pool) LastKnownGood() (Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastKnownGood, p.lastKnownGood != ""
}

// ProbeLiveness looks for a reachable endpoint. The last known good endpoint
// is tried first; otherwise the whole list is scanned in order and the first
// responsive endpoint becomes the new last known good.
// ErrNoEndpointReachable means the pool is degraded, not that callers must stop.
func (p *Pool) ProbeLiveness(ctx context.Context) (Endpoint, error) {
	if lkg, ok := p.LastKnownGood(); ok {
		err := p.check(ctx, lkg)
		if err == nil {
			return lkg, nil
		}
		log.LogWarn("Last known good endpoint failed liveness check",
			zap.String("endpoint", lkg.String()), zap.Error(err))
	}

	for i, endpoint := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		err := p.check(ctx, endpoint)
		if err == nil {
			p.mu.Lock()
			p.lastKnownGood = endpoint
			p.mu.Unlock()
			log.LogDebug("Endpoint is reachable", zap.String("endpoint", endpoint.String()))
			return endpoint, nil
		}

		log.LogWarn("Endpoint failed liveness check",
			zap.String("endpoint", endpoint.String()), zap.Error(err))

		if i < len(p.endpoints)-1 && !sleep(ctx, p.opts.ProbeDelay) {
			return "", ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNoEndpointReachable
}

func (p *Pool) check(ctx context.Context, endpoint Endpoint) error {
	if p.prober == nil {
		return errors.New("no prober configured")
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()
	return p.prober.Probe(probeCtx, endpoint)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
