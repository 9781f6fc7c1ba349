package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/supportops/mailtriage/internal/classifier"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/mail"
	"github.com/supportops/mailtriage/internal/persistence"
	"github.com/supportops/mailtriage/internal/repository"
	"github.com/supportops/mailtriage/internal/service"
	"github.com/supportops/mailtriage/internal/triage"
)

var (
	ingestMailbox string
	ingestLimit   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion batch against the configured mailbox",
	Long: "Fetches unseen messages, opens tickets and runs triage exactly like\n" +
		"the scheduled poll. Events stay in-process, so a running API instance\n" +
		"will not see notifications for tickets created here.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx := context.Background()
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()

		pool := pg.PoolHandle()
		ticketRepo := repository.NewTicketRepository(pool)
		kbRepo := repository.NewKBRepository(pool)
		mailLogRepo := repository.NewMailLogRepository(pool)

		verdicts, err := classifier.New(cfg.Classifier, cfg.Gate.MaxDraftChars, cfg.Ingest.RetrieverTopK, kbRepo)
		if err != nil {
			return fmt.Errorf("build classifier: %w", err)
		}

		ticketService := service.NewTicketService(service.TicketDependencies{
			TicketRepo:      ticketRepo,
			EventRepo:       repository.NewTicketEventRepository(pool),
			MailLogRepo:     mailLogRepo,
			Sender:          mail.SenderFromConfig(cfg.Mail, logger),
			Dispatcher:      events.NewInMemoryDispatcher(logger),
			Logger:          logger,
			MaxSendAttempts: cfg.Ingest.MaxSendAttempts,
		})
		ingestService := service.NewIngestService(service.IngestDependencies{
			Source:          mail.SourceFromConfig(cfg.Mail, logger),
			Classifier:      verdicts,
			Engine:          triage.NewEngine(cfg.Gate.ConfidenceThreshold, cfg.Gate.HighRiskCategories, cfg.Gate.DenyPatterns),
			TicketRepo:      ticketRepo,
			IngestionRepo:   repository.NewIngestionRepository(pool),
			KBRepo:          kbRepo,
			MailLogRepo:     mailLogRepo,
			TriageRunRepo:   repository.NewTriageRunRepository(pool),
			TicketService:   ticketService,
			Logger:          logger,
			PipelineVersion: cfg.App.PipelineVersion,
			Staleness:       cfg.Ingest.Staleness(),
			AutoSendEnabled: cfg.Gate.AutoSendEnabled,
			DefaultLimit:    cfg.Ingest.BatchLimit,
		})

		mailbox := ingestMailbox
		if mailbox == "" {
			mailbox = cfg.Mail.Mailbox
		}
		report, err := ingestService.IngestBatch(ctx, mailbox, ingestLimit)
		if err != nil {
			return fmt.Errorf("ingest batch: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "fetched %d, created %d, duplicates %d, failed %d\n",
			report.Fetched, report.Created, report.Duplicates, report.Failed)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestMailbox, "mailbox", "", "Mailbox to poll (defaults to MAIL_MAILBOX)")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "Max messages in the batch (defaults to INGEST_BATCH_LIMIT)")
}
