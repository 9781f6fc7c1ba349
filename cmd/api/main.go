package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/supportops/mailtriage/internal/api/http"
	"github.com/supportops/mailtriage/internal/api/http/handlers"
	"github.com/supportops/mailtriage/internal/auth"
	"github.com/supportops/mailtriage/internal/classifier"
	"github.com/supportops/mailtriage/internal/config"
	"github.com/supportops/mailtriage/internal/events"
	"github.com/supportops/mailtriage/internal/mail"
	"github.com/supportops/mailtriage/internal/observability"
	"github.com/supportops/mailtriage/internal/persistence"
	"github.com/supportops/mailtriage/internal/repository"
	"github.com/supportops/mailtriage/internal/service"
	"github.com/supportops/mailtriage/internal/triage"
	"github.com/supportops/mailtriage/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	eventRepo := repository.NewTicketEventRepository(pool)
	mailLogRepo := repository.NewMailLogRepository(pool)
	ingestionRepo := repository.NewIngestionRepository(pool)
	kbRepo := repository.NewKBRepository(pool)
	triageRunRepo := repository.NewTriageRunRepository(pool)
	operatorRepo := repository.NewOperatorRepository(pool)
	resetRepo := repository.NewPasswordResetRepository(pool)

	dispatcher := events.NewRedisDispatcher(events.NewInMemoryDispatcher(logger), redis.Client, cfg.Redis.EventChannel, logger)

	verdicts, err := classifier.New(cfg.Classifier, cfg.Gate.MaxDraftChars, cfg.Ingest.RetrieverTopK, kbRepo)
	if err != nil {
		logger.Fatal("failed to build classifier", zap.Error(err))
	}
	engine := triage.NewEngine(cfg.Gate.ConfidenceThreshold, cfg.Gate.HighRiskCategories, cfg.Gate.DenyPatterns)

	source := mail.SourceFromConfig(cfg.Mail, logger)
	sender := mail.SenderFromConfig(cfg.Mail, logger)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:      ticketRepo,
		EventRepo:       eventRepo,
		MailLogRepo:     mailLogRepo,
		Sender:          sender,
		Dispatcher:      dispatcher,
		Metrics:         metrics,
		Logger:          logger,
		MaxSendAttempts: cfg.Ingest.MaxSendAttempts,
	})
	ingestService := service.NewIngestService(service.IngestDependencies{
		Source:          source,
		Classifier:      verdicts,
		Engine:          engine,
		TicketRepo:      ticketRepo,
		IngestionRepo:   ingestionRepo,
		KBRepo:          kbRepo,
		MailLogRepo:     mailLogRepo,
		TriageRunRepo:   triageRunRepo,
		TicketService:   ticketService,
		Metrics:         metrics,
		Logger:          logger,
		PipelineVersion: cfg.App.PipelineVersion,
		Staleness:       cfg.Ingest.Staleness(),
		AutoSendEnabled: cfg.Gate.AutoSendEnabled,
		DefaultLimit:    cfg.Ingest.BatchLimit,
	})
	kbService := service.NewKBService(service.KBDependencies{
		KBRepo:        kbRepo,
		TicketRepo:    ticketRepo,
		TicketService: ticketService,
		Logger:        logger,
	})
	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		OperatorRepo: operatorRepo,
		ResetRepo:    resetRepo,
	})
	notificationService := service.NewNotificationService(dispatcher, sender, logger, cfg.Notify)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), operatorRepo)

	sched := worker.NewScheduler(cfg.Ingest,
		worker.WithLogger(logger),
		worker.WithMetrics(metrics),
		worker.WithLocker(worker.NewRedisLocker(redis.Client, "", logger)),
		worker.WithIngestPipeline(ingestService),
		worker.WithTicketMutator(ticketService),
		worker.WithTicketLister(ticketRepo),
		worker.WithTriageRunCounter(triageRunRepo),
		worker.WithReservationCounter(ingestionRepo),
		worker.WithMailbox(cfg.Mail.Mailbox),
	)
	if err := worker.StartBackgroundWorkers(sched, notificationService); err != nil {
		logger.Fatal("failed to start background workers", zap.Error(err))
	}

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(ticketService, kbService),
		KB:             handlers.NewKBHandler(kbService),
		Ingest:         handlers.NewIngestHandler(ingestService, cfg.Mail.Mailbox),
		Auth:           handlers.NewAuthHandler(authService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	stopped := sched.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("scheduled jobs still running at shutdown deadline")
	}

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
