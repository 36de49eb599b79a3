package commands

// Shared wiring for the subcommands: config, logging, metrics, the Solana
// client, the endpoint pool and the signature ledger.

import (
	"context"
	"fmt"

	"kol-monitor/internal/clients_api/solana"
	"kol-monitor/internal/features/ledger"
	"kol-monitor/internal/features/rpc_pool"
	"kol-monitor/internal/features/watcher"
	"kol-monitor/internal/infra/config"
	logging "kol-monitor/internal/infra/log"
	"kol-monitor/internal/infra/metrics"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runtime struct {
	cfg     *config.Config
	client  *solana.Client
	pool    *rpc_pool.Pool
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
}

func newRuntime(cmd *cobra.Command, req config.Requirement) (*runtime, error) {
	cfg, err := config.LoadConfig(cmd.Flags(), req)
	if err != nil {
		logging.LogError("Failed to load config", zap.Error(err))
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.Setup(logging.Options{Dir: cfg.App.LogDir, Level: cfg.App.LogLevel}); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	client := solana.NewClient(solana.Options{
		RateLimit:      cfg.RPC.RateLimit,
		Burst:          cfg.RPC.Burst,
		SignatureLimit: cfg.Monitor.SignatureLimit,
	})

	raw := cfg.AllEndpoints()
	endpoints := make([]rpc_pool.Endpoint, 0, len(raw))
	for _, e := range raw {
		endpoints = append(endpoints, rpc_pool.Endpoint(e))
	}
	pool, err := rpc_pool.New(endpoints, rpc_pool.ProberFunc(client.Probe), rpc_pool.Options{
		ProbeTimeout: cfg.Probe.Timeout,
		ProbeDelay:   cfg.Probe.Delay,
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create endpoint pool: %w", err)
	}

	logging.LogInfo("Runtime initialized",
		zap.Int("endpoints", pool.Len()),
		zap.String("current_endpoint", pool.Current().String()),
		zap.Int("addresses", len(cfg.Watch.Addresses)))

	return &runtime{
		cfg:     cfg,
		client:  client,
		pool:    pool,
		ledger:  ledger.New(ledger.WithMaxPerAddress(cfg.Ledger.MaxPerAddress)),
		metrics: metrics.New(),
	}, nil
}

func (r *runtime) monitorOptions() watcher.Options {
	return watcher.Options{
		Destination:   r.cfg.Telegram.ChatID,
		PollInterval:  r.cfg.Monitor.PollInterval,
		RetryInterval: r.cfg.Monitor.RetryInterval,
		FetchTimeout:  r.cfg.Monitor.FetchTimeout,
		Recorder:      r.metrics,
	}
}

// serveMetrics runs the /metrics listener in the background when configured.
func (r *runtime) serveMetrics(ctx context.Context) {
	addr := r.cfg.Metrics.ListenAddr
	if addr == "" {
		return
	}
	go func() {
		if err := r.metrics.Serve(ctx, addr); err != nil {
			logging.LogError("Metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

func (r *runtime) close() {
	if err := r.client.Close(); err != nil {
		logging.LogWarn("Failed to close RPC connections", zap.Error(err))
	}
	logging.Sync()
}
