package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/ticket-sync/internal/api/http"
	"github.com/spec-kit/ticket-sync/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/cache"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/persistence"
	"github.com/spec-kit/ticket-sync/internal/realtime"
	"github.com/spec-kit/ticket-sync/internal/repository"
	"github.com/spec-kit/ticket-sync/internal/service"
	"github.com/spec-kit/ticket-sync/internal/sla"
	"github.com/spec-kit/ticket-sync/internal/worker"
)

func main() {
	envFiles := pflag.StringSlice("env-file", []string{".env"}, "dotenv files to read before the environment")
	migrateOnly := pflag.Bool("migrate-only", false, "apply migrations and exit")
	pflag.Parse()

	cfg, err := config.Load(*envFiles...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations || *migrateOnly {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	if *migrateOnly {
		return
	}

	metrics := observability.NewMetrics()

	var store cache.Store
	switch cfg.Cache.Backend {
	case "memory":
		store = cache.NewMemoryStore()
	default:
		redis := persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		store = redis.Store(cfg.Cache.OpTimeout)
	}
	codec, err := cache.NewCodec(cfg.Cache.CompressThreshold)
	if err != nil {
		logger.Fatal("failed to init cache codec", zap.Error(err))
	}
	defer codec.Close()
	readCache, err := cache.New(store, cache.Options{
		Logger:    logger,
		Recorder:  metrics,
		Codec:     codec,
		ScanCount: cfg.Cache.ScanCount,
	})
	if err != nil {
		logger.Fatal("failed to init cache", zap.Error(err))
	}

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)
	alertRepo := repository.NewAlertRepository(pool)
	slaRuleRepo := repository.NewSLARuleRepository(pool)

	slaTable, err := loadSLATable(ctx, cfg.SLA, slaRuleRepo, logger)
	if err != nil {
		logger.Fatal("failed to load sla rules", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		AuditRepo:  auditRepo,
		Cache:      readCache,
		SLA:        slaTable,
		Dispatcher: dispatcher,
		Logger:     logger,
		CacheTTL:   cfg.Cache,
	})
	commentService := service.NewCommentService(service.CommentDependencies{
		TicketRepo:  ticketRepo,
		CommentRepo: commentRepo,
		Cache:       readCache,
		Dispatcher:  dispatcher,
		Logger:      logger,
		CacheTTL:    cfg.Cache,
	})
	alertService := service.NewAlertService(service.AlertDependencies{
		AlertRepo:  alertRepo,
		Cache:      readCache,
		Dispatcher: dispatcher,
		Logger:     logger,
		Config:     cfg.Alerts,
		CacheTTL:   cfg.Cache.AlertsTTL,
	})
	service.NewNotificationService(dispatcher, service.LogMailer{Logger: logger}, logger).RegisterHandlers()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)

	hub := realtime.NewHub(logger)
	realtime.NewBridge(hub, metrics, logger).Register(dispatcher)
	rtServer := realtime.NewServer(cfg.Realtime, realtime.Dependencies{
		Hub:      hub,
		Tickets:  ticketService,
		Comments: commentService,
		Auth:     tokens,
		Recorder: metrics,
		Logger:   logger,
	})

	scheduler := worker.NewScheduler(logger)
	if err := scheduler.Add("sla-sweep", cfg.Worker.SLASweepSchedule, worker.SLASweepJob(ticketService)); err != nil {
		logger.Fatal("failed to schedule sla sweep", zap.Error(err))
	}
	retention := time.Duration(cfg.Worker.AuditRetentionDays) * 24 * time.Hour
	if retention > 0 {
		if err := scheduler.Add("audit-retention", cfg.Worker.RetentionSchedule,
			worker.AuditRetentionJob(auditRepo, readCache, retention, nil, logger)); err != nil {
			logger.Fatal("failed to schedule audit retention", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics, map[string]handlers.Pinger{
			"postgres": pg,
			"cache":    readCache,
		}),
		Tickets:        handlers.NewTicketsHandler(ticketService, commentService),
		Alerts:         handlers.NewAlertsHandler(alertService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		AlertsAPIKey:   cfg.Alerts.APIKey,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	g.Go(func() error {
		return rtServer.Run(gctx)
	})
	g.Go(func() error {
		if err := scheduler.Start(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return
	}
	logger.Info("service stopped")
}

// loadSLATable seeds the stored matrix on first start and reads it back.
// A rules file, when configured, is the seed instead of the built-in defaults.
func loadSLATable(ctx context.Context, cfg config.SLAConfig, repo repository.SLARuleRepository, logger *zap.Logger) (*sla.Table, error) {
	seed := sla.DefaultRules()
	if cfg.RulesFile != "" {
		rules, err := sla.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		seed = rules
	}
	if _, err := sla.NewTable(seed); err != nil {
		return nil, err
	}

	seeded, err := repo.SeedIfEmpty(ctx, seed)
	if err != nil {
		return nil, err
	}
	if seeded {
		logger.Info("seeded sla rules", zap.Int("rules", len(seed)))
	}

	rules, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	table, err := sla.NewTable(rules)
	if err != nil {
		return nil, err
	}
	return table.WithCriticalThreshold(cfg.CriticalThreshold), nil
}
