package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-interview-chat/backend/internal/models"
	"live-interview-chat/backend/pkg/config"
	"live-interview-chat/backend/pkg/di"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/router"
	"live-interview-chat/backend/shared/observability"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found")
	}

	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting chat server", "env", cfg.Server.Env)

	// Observability: traces to stdout, metrics on :2112
	shutdownTracing := observability.SetupTracing("live-interview-chat")
	defer shutdownTracing()
	observability.SetupPrometheusMetrics()

	db, err := config.NewDB()
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	if err := db.AutoMigrate(
		&models.Message{},
		&models.ModerationAction{},
		&models.Appeal{},
		&models.AuditEntry{},
		&models.PrivateConversation{},
		&models.PrivateMessage{},
		&models.Block{},
	); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_id, timestamp)").Error; err != nil {
		log.LogError(err, "Failed to create message index", "index", "idx_messages_room_time")
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_private_conv_time ON private_messages(conversation_id, created_at)").Error; err != nil {
		log.LogError(err, "Failed to create private message index", "index", "idx_private_conv_time")
	}

	container, err := di.New(cfg, log, db)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops: liveness sweeping and, when enabled, the relay
	// subscriber.
	container.Registry.StartSweeper(ctx, cfg.Chat.SweepInterval)
	if container.Relay != nil {
		container.Relay.Start(ctx)
	}

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
}
