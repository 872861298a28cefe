package commands

// Root command for Cobra CLI
// Defines the main command structure of the application
// Registers all subcommands (bot, scan, verify-payment)

import (
	"fmt"

	"github.com/spf13/cobra"

	"onion-alerts/internal/infra/config"
	logging "onion-alerts/internal/infra/log"
)

var rootCmd = &cobra.Command{
	Use:   "onion-alerts",
	Short: "Onion Alerts - Telegram bot for new DexScreener pairs on Solana and BSC",
	Long: `Onion Alerts watches DexScreener for new and trending pairs on Solana and BSC,
drops honeypot contracts, classifies the rest into MIN / MEDIUM / MAX alerts and
delivers them to subscribers over Telegram.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(paymentCmd)
}

// loadConfig reads configuration for cmd and installs the loggers.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(cfg.App.LogDir); err != nil {
		return nil, err
	}
	return cfg, nil
}
