package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supportops/mailtriage/internal/config"
	"github.com/supportops/mailtriage/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "triagectl",
	Short: "Operations companion for the mail triage service",
	Long: "triagectl runs one-off maintenance against a mail triage deployment:\n" +
		"migrations, manual ingestion batches and operator account management.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(mailboxCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(operatorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvironment reads configuration and builds the logger shared by
// all subcommands.
func loadEnvironment() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
