package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/glowdesk/concierge/internal/api/router"
	"github.com/glowdesk/concierge/internal/bookings"
	"github.com/glowdesk/concierge/internal/channels/whatsapp"
	appconfig "github.com/glowdesk/concierge/internal/config"
	"github.com/glowdesk/concierge/internal/engine"
	"github.com/glowdesk/concierge/internal/flow"
	httphandlers "github.com/glowdesk/concierge/internal/http/handlers"
	"github.com/glowdesk/concierge/internal/identity"
	"github.com/glowdesk/concierge/internal/notify"
	"github.com/glowdesk/concierge/internal/observability/metrics"
	"github.com/glowdesk/concierge/internal/ratelimit"
	"github.com/glowdesk/concierge/internal/store"
	"github.com/glowdesk/concierge/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting concierge API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	conversationStore := store.NewStore(pool)
	users := identity.NewRepository(pool)
	limiter := ratelimit.NewLimiter(redisClient, ratelimit.Config{
		MaxEvents:      cfg.RateLimitMaxEvents,
		Window:         cfg.RateLimitWindow,
		NoticeCooldown: cfg.RateLimitNoticeCooldown,
	}, logger)

	bookingRepo := bookings.NewRepository(pool)
	bookingSvc := bookings.NewService(bookingRepo, logger)
	machine := flow.NewMachine(bookingSvc, logger, flow.Options{
		MaxRetries:        cfg.FlowMaxRetries,
		InactivityTimeout: cfg.FlowInactivityTimeout,
	})

	waClient := whatsapp.NewClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID)
	if cfg.WhatsAppGraphBaseURL != "" {
		waClient.SetGraphAPIBase(cfg.WhatsAppGraphBaseURL)
	}
	dispatcher := engine.NewDispatcher(waClient, logger, engine.DispatcherConfig{
		Attempts:       cfg.DispatchAttempts,
		BaseDelay:      cfg.DispatchBaseDelay,
		AttemptTimeout: cfg.DispatchTimeout,
	})

	var mailer notify.Mailer
	if sg := notify.NewSendGridMailer(notify.SendGridConfig{
		APIKey:        cfg.SendGridAPIKey,
		FromEmail:     cfg.SendGridFromEmail,
		FromName:      cfg.SendGridFromName,
		OperatorEmail: cfg.OperatorEmail,
	}, logger); sg != nil {
		mailer = sg
	}
	notifier := notify.NewService(mailer, logger)

	orchestrator := engine.NewOrchestrator(
		conversationStore,
		users,
		limiter,
		machine,
		engine.NewComplaintDetector(logger),
		engine.NewTemplateGenerator("Glowdesk"),
		dispatcher,
		notifier,
		pipelineMetrics,
		logger,
		engine.OrchestratorConfig{GenerateTimeout: cfg.GenerateTimeout},
	)

	// Each inbound event is processed off the webhook goroutine so Meta gets
	// its 200 immediately; the orchestrator serializes per user internally.
	var inflight sync.WaitGroup
	onEvent := func(ev whatsapp.InboundEvent) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			orchestrator.HandleInbound(context.WithoutCancel(ctx), ev)
		}()
	}
	webhook := whatsapp.NewWebhookHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, onEvent, logger)

	adminHandler := httphandlers.NewAdminConversationsHandler(conversationStore, users, bookingSvc, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		WhatsAppWebhook:    webhook,
		AdminConversations: adminHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	inflight.Wait()
	logger.Info("server stopped")
}
