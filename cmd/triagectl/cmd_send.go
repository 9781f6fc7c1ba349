package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/supportops/mailtriage/internal/mail"
)

var sendCmd = &cobra.Command{
	Use:   "send <to> <subject> <body>",
	Short: "Send a test mail through the configured SMTP transport",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		sender := mail.SenderFromConfig(cfg.Mail, logger)
		if sender == nil {
			return fmt.Errorf("no SMTP transport configured")
		}

		receipt, err := sender.Send(context.Background(), mail.OutboundMessage{
			To:      args[0],
			Subject: args[1],
			Body:    args[2],
		})
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s at %s\n", receipt.MessageID, receipt.SentAt.Format("15:04:05"))
		return nil
	},
}
