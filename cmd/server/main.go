package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	httpapi "github.com/username/branchtalk/internal/adapters/api/http"
	"github.com/username/branchtalk/internal/adapters/delivery"
	"github.com/username/branchtalk/internal/adapters/llm/openai"
	"github.com/username/branchtalk/internal/adapters/messaging/nats"
	"github.com/username/branchtalk/internal/adapters/storage/sqlite"
	"github.com/username/branchtalk/internal/domain/metrics"
	"github.com/username/branchtalk/internal/domain/services"
	"github.com/username/branchtalk/internal/pkg/constants"
	"github.com/username/branchtalk/internal/pkg/logutil"
	"github.com/username/branchtalk/pkg/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logutil.Setup(cfg.Logging.Level, cfg.Logging.Format, constants.ServiceName)
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting server")

	// Storage
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create database directory")
	}

	storage, err := sqlite.NewAdapter(cfg.Database.Path, cfg.Database.MigrationsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer storage.Close()

	ctx := context.Background()
	if err := storage.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run database migrations")
	}

	gate := sqlite.NewGate(storage, cfg.Usage.FreeDailyLimit, cfg.Usage.PaidDailyLimit)

	// Messaging
	messaging, err := nats.NewAdapter(cfg.NATS.URL, logutil.Component(logger, "nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize messaging")
	}
	defer messaging.Close()

	// Delivery hub
	hub := delivery.NewSessionHub(messaging, delivery.Config{
		QueueTimeout: time.Duration(cfg.Delivery.QueueTimeoutSec) * time.Second,
		PingInterval: time.Duration(cfg.Delivery.PingIntervalSec) * time.Second,
		PongGrace:    time.Duration(cfg.Delivery.PongGraceSec) * time.Second,
	}, logger)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start delivery hub")
	}

	// LLM
	llm, err := openai.NewAdapter(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize LLM adapter")
	}

	// Core services
	engine := services.NewGenerationEngine(llm, cfg.Streaming.ChunkSize, time.Duration(cfg.Streaming.ChunkDelayMS)*time.Millisecond)

	builder, err := services.NewContextBuilder(cfg.LLM.Model, cfg.LLM.ContextTokens)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize context builder")
	}

	tree := services.NewTree(storage)
	collector := metrics.NewCollector()
	chat := services.NewChatService(storage, tree, engine, gate, gate, messaging, builder, collector, logger)

	// HTTP server
	if cfg.Logging.Level == constants.LogLevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	handlers := httpapi.NewAPIHandlers(chat, hub, storage, messaging, collector, logger)
	handlers.SetupRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("server exited")
}
