package commands

// Command to run the Telegram bot
// /start launches a monitor per configured address, /status probes the RPC pool
// Implements graceful shutdown for proper termination

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kol-monitor/bots_monitor"
	"kol-monitor/internal/features/watcher"
	"kol-monitor/internal/infra/config"
	logging "kol-monitor/internal/infra/log"
	"kol-monitor/internal/infra/retry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot (/start, /help, /status)",
	Long: `Run the Telegram bot. Monitoring of the configured addresses begins on the
first /start command, or immediately when telegram.autostart is set.`,
	RunE: runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, config.RequireAddresses|config.RequireChatID|config.RequireBotToken)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api, err := tgbotapi.NewBotAPI(rt.cfg.Telegram.BotToken)
	if err != nil {
		logging.LogError("Failed to initialize bot", zap.Error(err))
		return fmt.Errorf("failed to initialize bot: %w", err)
	}
	logging.LogSuccess("Bot authorized", zap.String("username", api.Self.UserName))

	rt.serveMetrics(ctx)

	notifier := bots_monitor.NewTelegramNotifier(api, retry.Options{MaxRetries: 3})
	supervisor := watcher.NewSupervisor(rt.pool, rt.client, rt.ledger, notifier, rt.monitorOptions())
	status := watcher.NewStatusReporter(rt.pool, supervisor, len(rt.cfg.Watch.Addresses), rt.metrics)
	handler := bots_monitor.NewCommandHandler(api, supervisor, status, rt.cfg.Watch.Addresses, rt.cfg.Telegram.ChatID)

	if rt.cfg.Telegram.Autostart {
		started, err := supervisor.Start(rt.cfg.Watch.Addresses)
		if err != nil {
			return fmt.Errorf("failed to start monitors: %w", err)
		}
		logging.LogInfo("Monitoring started without /start", zap.Int("monitors", started))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.Run(ctx, updates)
	}()

	logging.LogSuccess("Bot is running", zap.Int("configured_addresses", len(rt.cfg.Watch.Addresses)))

	<-ctx.Done()
	logging.LogInfo("Shutdown signal received, gracefully stopping all monitors...")

	api.StopReceivingUpdates()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		logging.LogWarn("Timeout waiting for monitors to stop, forcing shutdown", zap.Error(err))
		return nil
	}
	logging.LogSuccess("All monitors stopped gracefully")
	return nil
}
