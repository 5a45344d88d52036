package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amara-dev/chatflow/internal/api"
	"github.com/amara-dev/chatflow/internal/bot"
	"github.com/amara-dev/chatflow/internal/channel"
	"github.com/amara-dev/chatflow/internal/config"
	"github.com/amara-dev/chatflow/internal/db"
	"github.com/amara-dev/chatflow/internal/dedupe"
	"github.com/amara-dev/chatflow/internal/middleware"
	"github.com/amara-dev/chatflow/internal/models"
	"github.com/amara-dev/chatflow/internal/observ"
	"github.com/amara-dev/chatflow/internal/orchestrator"
	"github.com/amara-dev/chatflow/internal/realtime"
	"github.com/amara-dev/chatflow/internal/repository"
	"github.com/amara-dev/chatflow/internal/repository/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Storage connectivity is the one dependency worth failing startup
	// over. Everything downstream degrades per request, not per process.
	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(context.Background()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	pool := database.Pool()
	threadRepo := postgres.NewThreadStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	customerRepo := postgres.NewCustomerStore(pool)
	integrationRepo := postgres.NewIntegrationStore(pool)
	companyRepo := repository.NewCachedCompanyRepository(postgres.NewCompanyStore(pool), time.Minute)

	// Webhook dedup: durable in Redis when configured, in-process otherwise.
	var dedupStore dedupe.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		dedupStore = dedupe.NewRedisStore(rdb, dedupe.DefaultTTL)
		logger.Info("webhook dedup backed by redis")
	} else {
		dedupStore = dedupe.NewMemoryStore(dedupe.DefaultTTL)
		logger.Info("webhook dedup in process memory")
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()

	generator := bot.NewClient(cfg.BotBaseURL, cfg.BotAPIKey, cfg.BotModel)

	senders := channel.NewRegistry()
	senders.Register(models.ChannelWhatsApp, channel.NewWhatsAppSender(cfg.GraphBaseURL, integrationRepo))

	convos := orchestrator.New(threadRepo, messageRepo, customerRepo, companyRepo,
		generator, senders, hub, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	chatHandler := api.NewChatHandler(convos, logger)
	webhookHandler := api.NewWebhookHandler(convos, customerRepo, integrationRepo,
		dedupStore, cfg.WebhookVerifyToken, logger)
	wsHandler := api.NewWSHandler(hub, logger)

	// Health stays public so the load balancer can probe it.
	engine.GET("/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.RegisterRoutes(engine, chatHandler, webhookHandler, wsHandler,
		middleware.AuthMiddleware(cfg.JWTSecret))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	logger.Info("starting chatflow",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
