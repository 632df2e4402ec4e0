package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/taxdesk/taxdesk/cmd/taxdesk/cli"
	"github.com/taxdesk/taxdesk/internal/app"
	"github.com/taxdesk/taxdesk/internal/auth"
	"github.com/taxdesk/taxdesk/internal/chat"
	"github.com/taxdesk/taxdesk/internal/contacts"
	"github.com/taxdesk/taxdesk/internal/filings"
	"github.com/taxdesk/taxdesk/internal/observability"
	"github.com/taxdesk/taxdesk/internal/platform/cache"
	"github.com/taxdesk/taxdesk/internal/platform/db"
	"github.com/taxdesk/taxdesk/internal/rbac"
	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/view"
	"github.com/taxdesk/taxdesk/jobs"
)

const viewSweepInterval = time.Minute

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, logger, os.Args[2:]))
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, "taxdesk-web")
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	listCache := cache.NewVersioned(redisClient, cfg.ListCacheTTL)
	if err := listCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	sessionManager := shared.NewSessionManager(redisClient, "taxdesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	api := remote.NewClient(cfg.RemoteAPIURL, cfg.RemoteTimeout, remote.WithLogger(logger), remote.WithObserver(metrics))

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacMiddleware := rbac.Middleware{Logger: logger}
	rbacMiddleware.Forbidden = app.ForbiddenPage(logger, templates, csrfManager)

	authService := auth.NewService(api, auditLogger, logger)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	filingsService := filings.NewService(api, listCache, auditLogger, idempotencyStore, logger)
	filingsViews := filings.NewViews(filingsService, cfg.ListPageSize, cfg.ViewIdleTTL, metrics.StaleDiscarded)
	filingsHandler := filings.NewHandler(logger, filingsService, filingsViews, templates, csrfManager, rbacMiddleware)

	contactsService := contacts.NewService(api, listCache, auditLogger, idempotencyStore, logger)
	contactsViews := contacts.NewViews(contactsService, cfg.ListPageSize, cfg.ViewIdleTTL, metrics.StaleDiscarded)
	contactsHandler := contacts.NewHandler(logger, contactsService, contactsViews, templates, csrfManager, rbacMiddleware)

	go filingsViews.Run(ctx, viewSweepInterval)
	go contactsViews.Run(ctx, viewSweepInterval)

	chatHandler := chat.NewHandler(logger, api, templates, csrfManager, rbacMiddleware, sessionManager, chat.NewHub(), chat.Config{
		Interval:   cfg.ChatPollInterval,
		PollFailed: metrics.PollFailed,
		LiveOpened: metrics.LiveSessionOpened,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Templates:       templates,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		RBACMiddleware:  rbacMiddleware,
		AuthHandler:     authHandler,
		FilingsHandler:  filingsHandler,
		ContactsHandler: contactsHandler,
		ChatHandler:     chatHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobs(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		logger.Error("jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()
	if err := jobsCLI.Run(ctx, args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
