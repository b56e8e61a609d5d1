package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database connection manager
type Manager struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *logrus.Logger
}

// Database configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	LogLevel    string
}

// NewManager creates a new database manager with connection pooling
func NewManager(config *Config, logger *logrus.Logger) (*Manager, error) {
	gormLogger := gormlogger.Default.LogMode(gormlogger.Silent)
	if config.LogLevel == "debug" {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	// Open database connection with pooling
	db, err := gorm.Open(postgres.Open(config.DatabaseURL), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true, // Improve performance
		PrepareStmt:            true, // Cache prepared statements
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	// Test database connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Redis client
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unavailable, running without cache")
	}

	logger.Info("Database connections established")

	return &Manager{
		DB:     db,
		Redis:  redisClient,
		logger: logger,
	}, nil
}

// Migrate runs GORM auto-migrations for the sentiment tables
func (m *Manager) Migrate() error {
	return m.DB.AutoMigrate(
		&models.SentimentConfig{},
		&models.SentimentConfigAudit{},
		&models.SentimentPrediction{},
		&models.SentimentFeedback{},
		&models.SentimentMetric{},
	)
}

func (m *Manager) Close() error {
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close redis client")
		}
	}

	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *Manager) PingDatabase() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (m *Manager) PingRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.Redis.Ping(ctx).Err()
}

// Cache implementation
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewCache(client *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Cache key constants
const (
	EffectiveConfigKey  = "sentiment:effective:%s:%s" // scope, scopeID
	DashboardMetricsKey = "sentiment:dashboard:%s:%d" // configID, days
	SystemHealthKey     = "sentiment:health"
)

// CacheEffectiveConfig caches a resolved effective config for a scope
func (c *Cache) CacheEffectiveConfig(ctx context.Context, scope, scopeID string, cfg *models.SentimentConfig, expiration time.Duration) error {
	key := fmt.Sprintf(EffectiveConfigKey, scope, scopeID)

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedEffectiveConfig retrieves a cached effective config
func (c *Cache) GetCachedEffectiveConfig(ctx context.Context, scope, scopeID string) (*models.SentimentConfig, error) {
	key := fmt.Sprintf(EffectiveConfigKey, scope, scopeID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var cfg models.SentimentConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// InvalidateEffectiveConfigs drops every cached resolution. Config writes at
// one scope can change the outcome at any other, so the whole keyspace goes.
func (c *Cache) InvalidateEffectiveConfigs(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "sentiment:effective:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// CacheDashboardMetrics caches a dashboard metric window
func (c *Cache) CacheDashboardMetrics(ctx context.Context, configID string, days int, metrics interface{}, expiration time.Duration) error {
	key := fmt.Sprintf(DashboardMetricsKey, configID, days)

	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard metrics: %w", err)
	}

	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetCachedDashboardMetrics retrieves a cached dashboard metric window
func (c *Cache) GetCachedDashboardMetrics(ctx context.Context, configID string, days int, result interface{}) error {
	key := fmt.Sprintf(DashboardMetricsKey, configID, days)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// CacheSystemHealth stores the last health snapshot
func (c *Cache) CacheSystemHealth(ctx context.Context, health interface{}, expiration time.Duration) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal health snapshot: %w", err)
	}
	return c.client.Set(ctx, SystemHealthKey, data, expiration).Err()
}

// GetCachedSystemHealth retrieves the last health snapshot
func (c *Cache) GetCachedSystemHealth(ctx context.Context, result interface{}) error {
	data, err := c.client.Get(ctx, SystemHealthKey).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), result)
}
