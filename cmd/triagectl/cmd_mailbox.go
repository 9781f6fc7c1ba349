package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/supportops/mailtriage/internal/mail"
)

var (
	mailboxName  string
	mailboxLimit int
)

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Inspect the configured inbound mailbox",
}

var mailboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show heads of recent messages without ingesting them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		// Listing must never consume messages.
		mailCfg := cfg.Mail
		mailCfg.POP3DeleteFetch = false

		source := mail.SourceFromConfig(mailCfg, logger)
		if source == nil {
			return fmt.Errorf("no inbound mail transport configured")
		}

		box := mailboxName
		if box == "" {
			box = cfg.Mail.Mailbox
		}
		messages, err := source.FetchNew(context.Background(), box, mailboxLimit)
		if err != nil {
			return fmt.Errorf("fetch mailbox: %w", err)
		}
		if len(messages) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "mailbox empty")
			return nil
		}
		for _, msg := range messages {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
				msg.ReceivedAt.Format(time.RFC3339), msg.From, msg.Subject, msg.SourceID)
		}
		return nil
	},
}

func init() {
	mailboxListCmd.Flags().StringVar(&mailboxName, "mailbox", "", "Mailbox to inspect (defaults to MAIL_MAILBOX)")
	mailboxListCmd.Flags().IntVar(&mailboxLimit, "limit", 10, "Max messages to show")

	mailboxCmd.AddCommand(mailboxListCmd)
}
