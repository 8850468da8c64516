package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/conduitcrm/messaging-engine/cmd/mainconfig"
	"github.com/conduitcrm/messaging-engine/internal/api/router"
	"github.com/conduitcrm/messaging-engine/internal/channels/whatsapp"
	"github.com/conduitcrm/messaging-engine/internal/classify"
	appconfig "github.com/conduitcrm/messaging-engine/internal/config"
	"github.com/conduitcrm/messaging-engine/internal/contacts"
	"github.com/conduitcrm/messaging-engine/internal/conversation"
	"github.com/conduitcrm/messaging-engine/internal/events"
	"github.com/conduitcrm/messaging-engine/internal/http/handlers"
	"github.com/conduitcrm/messaging-engine/internal/media"
	"github.com/conduitcrm/messaging-engine/internal/messaging"
	"github.com/conduitcrm/messaging-engine/internal/notify"
	"github.com/conduitcrm/messaging-engine/internal/observability/metrics"
	"github.com/conduitcrm/messaging-engine/internal/realtime"
	"github.com/conduitcrm/messaging-engine/internal/routing"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting messaging-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

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

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Metrics registry.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ingestMetrics := metrics.NewIngestMetrics(registry)

	// Stores.
	messageStore := messaging.NewStore(pool)
	contactRepo := contacts.NewRepository(pool)
	conversationStore := conversation.NewStore(pool)
	registryStore := messaging.NewRegistryStore(pool)
	ruleRepo := routing.NewRepository(pool)
	resolver := messaging.NewTenantResolver(registryStore)
	statusTracker := messaging.NewStatusTracker(pool, logger)
	processedStore := events.NewProcessedStore(pool)

	// Classifier: AI tier by configured provider, keyword tier always.
	var ai classify.AIClassifier
	switch cfg.ClassifierProvider {
	case "bedrock":
		if cfg.BedrockModelID != "" {
			bedrock, err := classify.NewBedrockClassifier(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
			if err != nil {
				logger.Error("bedrock classifier init failed", "error", err)
				os.Exit(1)
			}
			ai = bedrock
		}
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			gemini, err := classify.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
			if err != nil {
				logger.Error("gemini classifier init failed", "error", err)
				os.Exit(1)
			}
			defer gemini.Close()
			ai = gemini
		}
	}
	if ai == nil {
		logger.Warn("no AI classifier configured, keyword fallback only", "provider", cfg.ClassifierProvider)
	}
	classifier := classify.NewTieredClassifier(ai, classify.NewKeywordClassifier(classify.KeywordSets{}), cfg.ClassifyTimeout, logger)

	engine := routing.NewEngine(ruleRepo, ruleRepo, logger)

	// Realtime fan-out.
	var redisClient redis.UniversalClient
	var broadcaster *events.Broadcaster
	var hub *realtime.Hub
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		broadcaster = events.NewBroadcaster(redisClient, logger)
		hub = realtime.NewHub(redisClient, logger)
		go func() {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("realtime hub stopped", "error", err)
			}
		}()
		defer hub.Close()
	}

	// Media archival.
	var archiver *media.Archiver
	if !cfg.MediaArchiveDisabled && cfg.MediaArchiveBucket != "" {
		archiver = media.NewArchiver(s3.NewFromConfig(awsCfg), cfg.MediaArchiveBucket, logger)
		defer archiver.Wait()
	}

	// Operator alerting.
	var emailSender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sg != nil {
			emailSender = sg
		}
	case "ses":
		if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); ses != nil {
			emailSender = ses
		}
	}
	if emailSender == nil {
		emailSender = notify.NewStubEmailSender(logger)
	}
	alerts := notify.NewAlertService(emailSender, notify.StaticRecipients{Value: notify.Recipients{
		EmailEnabled:    len(cfg.AlertRecipients) > 0,
		EmailRecipients: cfg.AlertRecipients,
		OperatorEmails:  cfg.AlertRecipients,
	}}, logger)

	pipeline := conversation.NewPipeline(conversation.PipelineConfig{
		Contacts:           contactRepo,
		Conversations:      conversationStore,
		Messages:           messageStore,
		Classifier:         classifier,
		Engine:             engine,
		Status:             statusTracker,
		Ledger:             processedStore,
		Broadcaster:        broadcaster,
		Archiver:           archiver,
		Alerts:             alerts,
		Metrics:            ingestMetrics,
		Logger:             logger,
		Deadline:           cfg.PipelineDeadline,
		HighValueThreshold: cfg.HighValueLeadScore,
	})

	// Webhook intake and outbound dispatch.
	webhook := whatsapp.NewWebhookHandler(whatsapp.WebhookConfig{
		VerifyToken:  cfg.WhatsAppVerifyToken,
		AppSecret:    cfg.WhatsAppAppSecret,
		AccountToken: cfg.WhatsAppAccountToken,
	}, resolver, pipeline, alerts, ingestMetrics, logger)

	sender := whatsapp.NewClient(whatsapp.WithBaseURL(cfg.WhatsAppAPIBaseURL))
	dispatcher := messaging.NewDispatcher(registryStore, sender, messageStore, logger).
		WithTimeout(cfg.WhatsAppSendTimeout)

	var realtimeHandler *realtime.Handler
	if hub != nil {
		realtimeHandler = realtime.NewHandler(hub, logger)
	}

	r := router.New(&router.Config{
		Logger:             logger,
		WhatsAppWebhook:    webhook,
		SendHandler:        handlers.NewSendHandler(dispatcher, ingestMetrics, logger),
		AdminRules:         handlers.NewAdminRulesHandler(ruleRepo, logger),
		AdminRegistrations: handlers.NewAdminRegistrationsHandler(registryStore, logger),
		RealtimeHandler:    realtimeHandler,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AuthSecret:         cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   50,
		WebhookRateBurst:   100,
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
		os.Exit(1)
	}
	logger.Info("server stopped")
}
