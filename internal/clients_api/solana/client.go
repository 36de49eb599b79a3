package solana

// Package solana is the transport to Solana JSON-RPC nodes. It keeps one
// connection per endpoint, throttles requests with a shared rate limiter and
// puts a circuit breaker in front of each endpoint so a dead node fails fast.
// It knows nothing about failover; callers pick the endpoint.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kol-monitor/internal/features/rpc_pool"
	"kol-monitor/internal/infra/log"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const healthOK = "ok"

var ErrInvalidAddress = errors.New("invalid solana address")

type Options struct {
	RateLimit       float64       // requests per second across all endpoints, 0 = 10
	Burst           int           // 0 = 20
	SignatureLimit  int           // page size for getSignaturesForAddress, 0 = node default
	BreakerFailures uint32        // consecutive failures before an endpoint's breaker opens, 0 = 5
	BreakerTimeout  time.Duration // how long an open breaker rejects calls, 0 = 30s
}

type Client struct {
	limiter *rate.Limiter
	opts    Options

	mu    sync.Mutex
	conns map[rpc_pool.Endpoint]*conn
}

type conn struct {
	rpc     *rpc.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(opts Options) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	return &Client{
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		opts:    opts,
		conns:   make(map[rpc_pool.Endpoint]*conn),
	}
}

// connection returns the cached connection for endpoint, opening it on first use.
func (c *Client) connection(endpoint rpc_pool.Endpoint) *conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cn, ok := c.conns[endpoint]; ok {
		return cn
	}

	failures := c.opts.BreakerFailures
	cn := &conn{
		rpc: rpc.New(endpoint.String()),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        endpoint.String(),
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     c.opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.LogWarn("RPC endpoint circuit breaker changed state",
					zap.String("endpoint", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
	c.conns[endpoint] = cn
	log.LogInfo("Connecting to RPC node", zap.String("endpoint", endpoint.String()))
	return cn
}

// FetchSignatures returns the most recent confirmed signatures for address on
// endpoint, newest first as the node returns them.
func (c *Client) FetchSignatures(ctx context.Context, endpoint rpc_pool.Endpoint, address string) ([]string, error) {
	pubkey, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{Commitment: rpc.CommitmentConfirmed}
	if c.opts.SignatureLimit > 0 {
		limit := c.opts.SignatureLimit
		opts.Limit = &limit
	}

	cn := c.connection(endpoint)
	requestID := log.GenerateRequestID()
	start := time.Now()

	out, err := cn.breaker.Execute(func() (interface{}, error) {
		return cn.rpc.GetSignaturesForAddressWithOpts(ctx, pubkey, opts)
	})
	log.LogRPCCall(requestID, "getSignaturesForAddress", endpoint.String(), time.Since(start).Milliseconds(), err,
		zap.String("address", address))
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress on %s: %w", endpoint, err)
	}

	result, _ := out.([]*rpc.TransactionSignature)
	signatures := make([]string, 0, len(result))
	for _, item := range result {
		if item == nil {
			continue
		}
		signatures = append(signatures, item.Signature.String())
	}
	return signatures, nil
}

// Probe calls getHealth on endpoint. It bypasses the breaker so a probe can
// see a node that has recovered while its breaker is still open.
func (c *Client) Probe(ctx context.Context, endpoint rpc_pool.Endpoint) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	cn := c.connection(endpoint)
	requestID := log.GenerateRequestID()
	start := time.Now()

	health, err := cn.rpc.GetHealth(ctx)
	if err == nil && health != healthOK {
		err = fmt.Errorf("node reported health %q", health)
	}
	log.LogRPCCall(requestID, "getHealth", endpoint.String(), time.Since(start).Milliseconds(), err)
	if err != nil {
		return fmt.Errorf("getHealth on %s: %w", endpoint, err)
	}
	return nil
}

// Close releases every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for endpoint, cn := range c.conns {
		if err := cn.rpc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", endpoint, err))
		}
		delete(c.conns, endpoint)
	}
	return errors.Join(errs...)
}
