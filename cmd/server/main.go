package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/tradejournal-api/internal/audit"
	"github.com/ksred/tradejournal-api/internal/auth"
	"github.com/ksred/tradejournal-api/internal/config"
	"github.com/ksred/tradejournal-api/internal/connection"
	"github.com/ksred/tradejournal-api/internal/database"
	"github.com/ksred/tradejournal-api/internal/ingest"
	"github.com/ksred/tradejournal-api/internal/journal"
	"github.com/ksred/tradejournal-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the journal API server with graceful shutdown support
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && os.Getenv("DEBUG") != "true" {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to initialize database")
	}

	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret, cfg.SessionTTL)
	authHandlers := auth.NewGinHandlers(authService)
	if cfg.DevAPIKey != "" && cfg.DevAPISecret != "" {
		if err := authService.RegisterAPICredentials(cfg.DevAPIKey, cfg.DevAPISecret, cfg.DevUserID); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to register development API credentials")
		}
		zlog.Info().Str("user_id", cfg.DevUserID).Msg("Registered development API credentials")
	}

	connectionService := connection.NewService(db, connection.NewCodeGenerator(cfg.CodePrefix))
	connectionHandlers := connection.NewGinHandlers(connectionService)

	// Expire connection codes that were issued but never used
	sweeper := connection.NewSweeper(connectionService, cfg.PendingCodeTTL, cfg.SweepInterval)
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	go sweeper.Start(sweeperCtx)

	importLog := audit.NewLog(db)
	auditHandlers := audit.NewGinHandlers(importLog)

	pipeline := ingest.NewPipeline(journal.NewStore(db), importLog, connectionService)
	ingestHandlers := ingest.NewGinHandlers(pipeline, cfg.MaxUploadBytes)

	limiter := middleware.NewRateLimiter(middleware.DefaultLimits)

	setupRoutes(router, limiter, authService, authHandlers, connectionHandlers, auditHandlers, ingestHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give in-flight imports 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	sweeperCancel()
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: public, exchange API credentials for a session token
// - Webhook routes: public, authenticated by the connection code in the body
// - Connection and import routes: require a session token
// Public routes are rate limited per client IP; session routes per user, so
// the limiter runs after SessionAuth there.
func setupRoutes(
	router *gin.Engine,
	limiter *middleware.RateLimiter,
	validator middleware.TokenValidator,
	authHandlers *auth.GinHandlers,
	connectionHandlers *connection.GinHandlers,
	auditHandlers *audit.GinHandlers,
	ingestHandlers *ingest.GinHandlers,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(limiter.Middleware())
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		webhooks := v1.Group("/webhooks")
		webhooks.Use(limiter.Middleware())
		{
			webhooks.POST("/mt", ingestHandlers.WebhookHandler())
		}

		connections := v1.Group("/connections")
		connections.Use(middleware.SessionAuth(validator), limiter.Middleware())
		{
			connections.POST("", connectionHandlers.CreateConnectionHandler())
			connections.GET("", connectionHandlers.ListConnectionsHandler())
			connections.DELETE("/:connection_id", connectionHandlers.DeleteConnectionHandler())
		}

		imports := v1.Group("/imports")
		imports.Use(middleware.SessionAuth(validator), limiter.Middleware())
		{
			imports.GET("", auditHandlers.ImportHistoryHandler())
			imports.POST("/upload", ingestHandlers.UploadHandler())
		}
	}
}
