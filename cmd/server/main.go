package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/api"
	"aromazen-backend-go/internal/attribution"
	"aromazen-backend-go/internal/billing"
	"aromazen-backend-go/internal/config"
	"aromazen-backend-go/internal/core"
	"aromazen-backend-go/internal/db"
	"aromazen-backend-go/internal/middleware"
	"aromazen-backend-go/internal/outbox"
	"aromazen-backend-go/internal/supabase"
	"aromazen-backend-go/pkg/cache"
	"aromazen-backend-go/pkg/mailer"
	"aromazen-backend-go/pkg/messagequeue"
)

func main() {
	// A local .env is a development convenience; in deployment the
	// environment is the source of truth.
	_ = godotenv.Load()

	// --- Configuration ---
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to load application configuration: %v", err)
	}

	// --- Logger (Zap) ---
	var zapLogger *zap.Logger
	if strings.ToLower(appConfig.GinMode) == "release" {
		zapLogger, err = zap.NewProduction()
	} else {
		zapLogger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Configuration loaded and logger initialized")

	// --- Postgres (profiles, conversions) ---
	initCtx, cancelInitCtx := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInitCtx()
	pool, err := db.Connect(initCtx, appConfig.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	zapLogger.Info("Postgres connection pool established")

	profileRepo := db.NewPostgresProfileRepository(pool)
	conversionRepo := db.NewPostgresConversionRepository(pool)

	// --- Stripe gateway ---
	gateway, err := billing.NewStripeGateway(billing.StripeConfig{
		APIKey:         appConfig.StripeSecretKey,
		WebhookSecret:  appConfig.StripeWebhookSecret,
		ClientURL:      appConfig.ClientURL,
		PriceMonthly:   appConfig.StripePriceMonthly,
		PriceQuarterly: appConfig.StripePriceQuarterly,
		PriceAnnual:    appConfig.StripePriceAnnual,
	})
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Stripe gateway", zap.Error(err))
	}

	// --- Supabase auth (token verification + admin metadata sync) ---
	verifier := supabase.NewTokenVerifier(appConfig.SupabaseJWTSecret)
	var metadataSyncer supabase.MetadataSyncer
	if appConfig.SupabaseURL != "" {
		metadataSyncer = supabase.NewAdminClient(appConfig.SupabaseURL, appConfig.SupabaseServiceRoleKey)
		zapLogger.Info("Supabase admin metadata sync enabled", zap.String("url", appConfig.SupabaseURL))
	} else {
		zapLogger.Warn("SUPABASE_URL not configured; JWT metadata sync disabled, clients rely on DB confirm only")
	}

	// --- Optional side-effect backends ---
	var dedup cache.Cache
	if appConfig.RedisAddr != "" {
		dedup, err = cache.NewRedisCache(cache.NewRedisCacheConfig{
			Address:  appConfig.RedisAddr,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		if err != nil {
			// Dedup is best-effort; a dead Redis must not block startup.
			zapLogger.Warn("Redis unavailable; webhook dedup disabled", zap.Error(err))
			dedup = nil
		} else {
			zapLogger.Info("Redis webhook dedup enabled", zap.String("addr", appConfig.RedisAddr))
		}
	}

	var queue messagequeue.MessageQueue
	if appConfig.AMQPURL != "" {
		queue, err = messagequeue.NewRabbitMQService(messagequeue.NewRabbitMQServiceConfig{URL: appConfig.AMQPURL})
		if err != nil {
			zapLogger.Warn("RabbitMQ unavailable; conversion fan-out disabled", zap.Error(err))
			queue = nil
		} else {
			defer queue.Close()
			zapLogger.Info("RabbitMQ conversion fan-out enabled", zap.String("queue", appConfig.AMQPConversionsQueue))
		}
	}

	var mail mailer.Sender
	if smtp := mailer.NewSMTPMailer(appConfig.SMTPHost, appConfig.SMTPPort, appConfig.SMTPUser, appConfig.SMTPPass, appConfig.MailFrom); smtp != nil {
		mail = smtp
		zapLogger.Info("SMTP payment-failure notifications enabled")
	}

	var attrib attribution.Sender
	if client := attribution.NewClient(appConfig.MetaPixelID, appConfig.MetaAccessToken); client != nil {
		attrib = client
		zapLogger.Info("Meta attribution events enabled")
	}

	// --- Outbox for best-effort side effects ---
	box := outbox.New(zapLogger)

	// --- Core services ---
	webhookService, err := core.NewWebhookService(core.WebhookServiceDeps{
		Profiles:    profileRepo,
		Conversions: conversionRepo,
		Gateway:     gateway,
		Metadata:    metadataSyncer,
		Attribution: attrib,
		Queue:       queue,
		QueueName:   appConfig.AMQPConversionsQueue,
		Mail:        mail,
		Dedup:       dedup,
		Outbox:      box,
		Logger:      zapLogger,
	})
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize webhook service", zap.Error(err))
	}
	checkoutService := core.NewCheckoutService(gateway, zapLogger)
	portalService := core.NewPortalService(profileRepo, gateway, zapLogger)
	usageService := core.NewUsageService(profileRepo, zapLogger)
	zapLogger.Info("Core services initialized")

	// --- Gin engine and middleware stack ---
	if strings.ToLower(appConfig.GinMode) == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware(appConfig))

	api.SetupRoutes(router, zapLogger, verifier, webhookService, checkoutService, portalService, usageService)

	// --- HTTP server with graceful shutdown ---
	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	zapLogger.Info("Starting HTTP server", zap.String("address", serverAddr), zap.String("ginMode", gin.Mode()))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quitChannel
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Drain in-flight best-effort jobs before the process exits.
	box.Close()

	zapLogger.Info("Server exiting gracefully")
}
