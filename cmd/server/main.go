package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/kinetiqhq/kinetiq/backend/internal/api/handlers"
	"github.com/kinetiqhq/kinetiq/backend/internal/config"
	"github.com/kinetiqhq/kinetiq/backend/internal/database"
	"github.com/kinetiqhq/kinetiq/backend/internal/health"
	"github.com/kinetiqhq/kinetiq/backend/internal/middleware"
	"github.com/kinetiqhq/kinetiq/backend/internal/migration"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/kinetiqhq/kinetiq/backend/internal/services"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting sentiment service...")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	dbConfig := &database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	migrationRunner := migration.NewRunner(dbManager, logger)
	if err := migrationRunner.RunMigrations(cfg.Rollup.MigrationsPath); err != nil {
		logger.WithError(err).Fatal("Database migrations failed")
	}

	repoManager := repository.NewRepositoryManager(dbManager.DB)
	cache := database.NewCache(dbManager.Redis, logger)

	configService := services.NewConfigService(repoManager, cache, logger)
	predictionService := services.NewPredictionService(configService, repoManager, logger)
	feedbackService := services.NewFeedbackService(configService, repoManager, nil, logger)
	telemetryService := services.NewTelemetryService(configService, repoManager, cache, logger)

	healthChecker := health.NewHealthChecker(dbManager, logger, cfg.Providers.HealthEndpoint)

	healthCtx, stopHealthChecks := context.WithCancel(context.Background())
	defer stopHealthChecks()
	go healthChecker.PeriodicHealthCheck(healthCtx, 30*time.Second)

	router := setupRouter(cfg, logger, configService, predictionService, feedbackService, telemetryService, healthChecker)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
	logger.Info("Server stopped")
}

func setupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	configService *services.ConfigService,
	predictionService *services.PredictionService,
	feedbackService *services.FeedbackService,
	telemetryService *services.TelemetryService,
	healthChecker *health.HealthChecker,
) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimit)
	router.Use(rateLimiter.RateLimit())

	configHandler := handlers.NewConfigHandler(configService, logger)
	predictionHandler := handlers.NewPredictionHandler(predictionService, logger)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackService, logger)
	telemetryHandler := handlers.NewTelemetryHandler(telemetryService, logger)

	router.GET("/health", func(c *gin.Context) {
		if cached, err := healthChecker.CheckCached(c.Request.Context()); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
		c.JSON(http.StatusOK, healthChecker.CheckAll())
	})

	api := router.Group("/api/v1")
	{
		configs := api.Group("/sentiment/configs")
		{
			configs.POST("", configHandler.HandleCreateConfig)
			configs.GET("", configHandler.HandleListConfigs)
			configs.GET("/effective", configHandler.HandleGetEffectiveConfig)
			configs.GET("/:id", configHandler.HandleGetConfig)
			configs.PUT("/:id", configHandler.HandleUpdateConfig)
			configs.DELETE("/:id", configHandler.HandleDeleteConfig)
			configs.POST("/:id/toggle", configHandler.HandleToggleConfig)
			configs.GET("/:id/versions", configHandler.HandleGetVersions)
			configs.POST("/:id/rollback", configHandler.HandleRollbackConfig)
			configs.GET("/:id/audit", configHandler.HandleGetAuditHistory)
			configs.POST("/:id/rollup", telemetryHandler.HandleTriggerRollup)
			configs.GET("/:id/drift", telemetryHandler.HandleDetectDrift)
			configs.GET("/:id/metrics", telemetryHandler.HandleDashboardMetrics)
		}

		sentiment := api.Group("/sentiment")
		{
			sentiment.POST("/predict", predictionHandler.HandlePredict)
			sentiment.POST("/predict/bulk", predictionHandler.HandleBulkPredict)
			sentiment.POST("/preview", predictionHandler.HandlePreview)
			sentiment.GET("/contacts/:contactId/history", predictionHandler.HandleContactHistory)
			sentiment.GET("/metrics/aggregate", predictionHandler.HandleAggregatedMetrics)
		}

		feedback := api.Group("/sentiment/feedback")
		{
			feedback.POST("", feedbackHandler.HandleSubmitFeedback)
			feedback.POST("/:id/review", feedbackHandler.HandleReviewFeedback)
			feedback.GET("/training-dataset", feedbackHandler.HandleTrainingDataset)
			feedback.POST("/mark-trained", feedbackHandler.HandleMarkTrained)
		}
	}

	return router
}
