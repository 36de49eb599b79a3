package commands

// One-shot liveness check of the RPC pool, printed to stdout

import (
	"fmt"

	"kol-monitor/bots_monitor"
	"kol-monitor/internal/features/watcher"
	"kol-monitor/internal/infra/config"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the RPC endpoints and print the network status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, config.Requirement(0))
	if err != nil {
		return err
	}
	defer rt.close()

	reporter := watcher.NewStatusReporter(rt.pool, noMonitors{}, len(rt.cfg.Watch.Addresses), rt.metrics)
	st := reporter.Snapshot(cmd.Context())

	fmt.Fprintln(cmd.OutOrStdout(), bots_monitor.FormatStatusMessage(st))
	if !st.Reachable {
		return fmt.Errorf("no RPC endpoint reachable: %w", st.ProbeError)
	}
	return nil
}

type noMonitors struct{}

func (noMonitors) Active() int { return 0 }
