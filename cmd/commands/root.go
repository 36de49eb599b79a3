package commands

// Root command for Cobra CLI
// Registers the bot, watch and status subcommands

import (
	"kol-monitor/internal/infra/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kol-monitor",
	Short: "KOL Monitor - Telegram bot watching Solana addresses for new transactions",
	Long: `KOL Monitor polls a set of Solana addresses through a rotating pool of RPC
endpoints and posts a Telegram notification for every new transaction signature.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
}
