package commands

// Command to watch addresses without Telegram
// Notifications go to the log instead of a chat

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kol-monitor/internal/features/watcher"
	"kol-monitor/internal/infra/config"
	logging "kol-monitor/internal/infra/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the configured addresses and log new transactions",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, config.RequireAddresses)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt.serveMetrics(ctx)

	supervisor := watcher.NewSupervisor(rt.pool, rt.client, rt.ledger, watcher.LogNotifier{}, rt.monitorOptions())
	started, err := supervisor.Start(rt.cfg.Watch.Addresses)
	if err != nil {
		return fmt.Errorf("failed to start monitors: %w", err)
	}
	logging.LogSuccess("Watching addresses", zap.Int("monitors", started))

	<-ctx.Done()
	logging.LogInfo("Shutdown signal received, stopping monitors...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		logging.LogWarn("Timeout waiting for monitors to stop, forcing shutdown", zap.Error(err))
	}
	return nil
}
