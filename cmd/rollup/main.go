package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kinetiqhq/kinetiq/backend/internal/config"
	"github.com/kinetiqhq/kinetiq/backend/internal/database"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/kinetiqhq/kinetiq/backend/internal/services"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Command line flags
var (
	date      = flag.String("date", "", "Day to roll up as YYYY-MM-DD (default: yesterday)")
	configID  = flag.String("config", "", "Roll up a single config instead of all current configs")
	skipDrift = flag.Bool("skip-drift", false, "Compute rollups only, do not evaluate drift")
	verbose   = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.Info("Starting sentiment metrics rollup...")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if *date != "" {
		parsed, err := time.Parse("2006-01-02", *date)
		if err != nil {
			logger.WithError(err).Fatal("Invalid -date, expected YYYY-MM-DD")
		}
		day = parsed
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

	repoManager := repository.NewRepositoryManager(dbManager.DB)
	cache := database.NewCache(dbManager.Redis, logger)

	configService := services.NewConfigService(repoManager, cache, logger)
	telemetryService := services.NewTelemetryService(configService, repoManager, cache, logger)

	ctx := context.Background()

	if *configID != "" {
		runSingle(ctx, telemetryService, logger, *configID, day)
	} else {
		if err := runAll(ctx, telemetryService, repoManager, logger, day); err != nil {
			logger.WithError(err).Fatal("Rollup sweep failed")
		}
	}

	logger.Info("Rollup completed")
}

func runSingle(ctx context.Context, telemetryService *services.TelemetryService, logger *logrus.Logger, id string, day time.Time) {
	if err := telemetryService.CalculateDailyMetrics(ctx, id, day); err != nil {
		logger.WithError(err).WithField("config_id", id).Fatal("Rollup failed")
	}
	if *skipDrift {
		return
	}
	result, err := telemetryService.DetectDrift(ctx, id)
	if err != nil {
		logger.WithError(err).WithField("config_id", id).Fatal("Drift detection failed")
	}
	logger.WithFields(logrus.Fields{
		"config_id":  id,
		"drift":      result.DriftDetected,
		"divergence": result.Divergence,
	}).Info("Drift evaluated")
}

func runAll(ctx context.Context, telemetryService *services.TelemetryService, repoManager *repository.RepositoryManager, logger *logrus.Logger, day time.Time) error {
	if *skipDrift {
		configs, err := repoManager.Config.ListCurrent()
		if err != nil {
			return err
		}
		for _, cfg := range configs {
			if err := telemetryService.CalculateDailyMetrics(ctx, cfg.ConfigID, day); err != nil {
				logger.WithError(err).WithField("config_id", cfg.ConfigID).Error("Rollup failed")
			}
		}
		return nil
	}
	return telemetryService.RunDailySweep(ctx, day)
}
