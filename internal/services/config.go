package services

import (
	"context"
	"errors"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrNoConfig means no effective policy resolves for a scope.
	ErrNoConfig = errors.New("no sentiment configuration found")
	// ErrConfigNotFound means an explicit config id or version does not exist.
	ErrConfigNotFound = errors.New("sentiment configuration not found")
)

const effectiveConfigTTL = 5 * time.Minute

// ConfigCache is the slice of database.Cache the config service uses. Nil is
// allowed; resolution then always hits the database.
type ConfigCache interface {
	GetCachedEffectiveConfig(ctx context.Context, scope, scopeID string) (*models.SentimentConfig, error)
	CacheEffectiveConfig(ctx context.Context, scope, scopeID string, cfg *models.SentimentConfig, expiration time.Duration) error
	InvalidateEffectiveConfigs(ctx context.Context) error
}

type ConfigService struct {
	repoManager *repository.RepositoryManager
	cache       ConfigCache
	logger      *logrus.Logger
}

func NewConfigService(repoManager *repository.RepositoryManager, cache ConfigCache, logger *logrus.Logger) *ConfigService {
	return &ConfigService{
		repoManager: repoManager,
		cache:       cache,
		logger:      logger,
	}
}

// GetEffectiveConfig resolves the policy that applies to a scope, by
// precedence user > campaign > company > workspace > global, restricted to
// enabled, non-deleted configs, highest version winning inside a level.
// Returns (nil, nil) when nothing matches; the caller decides how to fail.
func (s *ConfigService) GetEffectiveConfig(ctx context.Context, scope, scopeID string) (*models.SentimentConfig, error) {
	if !models.ValidScope(scope) {
		return nil, errors.New("invalid scope: " + scope)
	}

	if s.cache != nil {
		if cached, err := s.cache.GetCachedEffectiveConfig(ctx, scope, scopeID); err == nil && cached != nil {
			return cached, nil
		}
	}

	candidates, err := s.repoManager.Config.Candidates(scopeID)
	if err != nil {
		return nil, err
	}

	var best *models.SentimentConfig
	for i := range candidates {
		candidate := &candidates[i]
		if !candidate.Enabled || candidate.DeletedAt != nil {
			continue
		}
		if best == nil || betterPrecedence(candidate, best) {
			best = candidate
		}
	}

	if best == nil {
		return nil, nil
	}

	if s.cache != nil {
		if err := s.cache.CacheEffectiveConfig(ctx, scope, scopeID, best, effectiveConfigTTL); err != nil {
			s.logger.WithError(err).Debug("Failed to cache effective config")
		}
	}

	return best, nil
}

func betterPrecedence(candidate, current *models.SentimentConfig) bool {
	candidateRank := models.ScopePrecedence(candidate.Scope)
	currentRank := models.ScopePrecedence(current.Scope)
	if candidateRank != currentRank {
		return candidateRank > currentRank
	}
	return candidate.Version > current.Version
}

// GetConfig returns the current version of a config.
func (s *ConfigService) GetConfig(ctx context.Context, configID string) (*models.SentimentConfig, error) {
	cfg, err := s.repoManager.Config.Current(configID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return cfg, nil
}

// ListConfigs returns the current version of every config.
func (s *ConfigService) ListConfigs(ctx context.Context) ([]models.SentimentConfig, error) {
	return s.repoManager.Config.ListCurrent()
}

// GetVersions returns all versions of a config, newest first.
func (s *ConfigService) GetVersions(ctx context.Context, configID string) ([]models.SentimentConfig, error) {
	return s.repoManager.Config.Versions(configID)
}

// CreateConfig inserts version 1 of a new config.
func (s *ConfigService) CreateConfig(ctx context.Context, cfg *models.SentimentConfig, actor string) (*models.SentimentConfig, error) {
	if cfg.ConfigID == "" {
		cfg.ConfigID = utils.NewID()
	}
	cfg.Version = 1
	cfg.CreatedBy = actor

	if err := s.repoManager.Config.Insert(cfg); err != nil {
		return nil, err
	}

	s.audit(&models.SentimentConfigAudit{
		ConfigID:   cfg.ConfigID,
		Action:     "create",
		Actor:      actor,
		NewVersion: intPtr(1),
	})
	s.invalidateCache(ctx)

	s.logger.WithFields(logrus.Fields{
		"config_id": cfg.ConfigID,
		"scope":     cfg.Scope,
		"provider":  cfg.Model.Provider,
	}).Info("Sentiment config created")

	return cfg, nil
}

// UpdateConfig merges the provided fields over the current snapshot and
// inserts it as a new version. The prior version row is never mutated.
func (s *ConfigService) UpdateConfig(ctx context.Context, configID string, update models.ConfigUpdate, actor string) (*models.SentimentConfig, error) {
	current, err := s.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	next := *current
	next.RowID = 0
	next.Version = current.Version + 1
	next.CreatedBy = actor
	next.CreatedAt = time.Time{}
	next.UpdatedAt = time.Time{}

	changed := applyUpdate(&next, update)

	if err := s.repoManager.Config.Insert(&next); err != nil {
		return nil, err
	}

	s.audit(&models.SentimentConfigAudit{
		ConfigID:        configID,
		Action:          "update",
		Actor:           actor,
		PreviousVersion: intPtr(current.Version),
		NewVersion:      intPtr(next.Version),
		Diff:            models.JSONMap{"fields": changed},
		Reason:          update.Reason,
	})
	s.invalidateCache(ctx)

	s.logger.WithFields(logrus.Fields{
		"config_id": configID,
		"version":   next.Version,
		"fields":    changed,
	}).Info("Sentiment config updated")

	return &next, nil
}

func applyUpdate(cfg *models.SentimentConfig, update models.ConfigUpdate) []string {
	var changed []string
	if update.Name != nil {
		cfg.Name = *update.Name
		changed = append(changed, "name")
	}
	if update.Mode != nil {
		cfg.Mode = *update.Mode
		changed = append(changed, "mode")
	}
	if update.Model != nil {
		cfg.Model = *update.Model
		changed = append(changed, "model")
	}
	if update.Thresholds != nil {
		cfg.Thresholds = *update.Thresholds
		changed = append(changed, "thresholds")
	}
	if update.LabelMapping != nil {
		cfg.LabelMapping = *update.LabelMapping
		changed = append(changed, "label_mapping")
	}
	if update.DerivedMetrics != nil {
		cfg.DerivedMetrics = update.DerivedMetrics
		changed = append(changed, "derived_metrics")
	}
	if update.Sampling != nil {
		cfg.Sampling = update.Sampling
		changed = append(changed, "sampling")
	}
	if update.Feedback != nil {
		cfg.Feedback = update.Feedback
		changed = append(changed, "feedback")
	}
	if update.DriftDetection != nil {
		cfg.DriftDetection = update.DriftDetection
		changed = append(changed, "drift_detection")
	}
	return changed
}

// ToggleConfig flips the enabled flag in place on the current version. This
// is the one intentional in-place mutation: enablement is not a policy change
// worth a new snapshot.
func (s *ConfigService) ToggleConfig(ctx context.Context, configID string, enabled bool, actor string) error {
	current, err := s.GetConfig(ctx, configID)
	if err != nil {
		return err
	}

	if err := s.repoManager.Config.SetEnabled(configID, enabled); err != nil {
		return err
	}

	action := "enable"
	if !enabled {
		action = "disable"
	}
	s.audit(&models.SentimentConfigAudit{
		ConfigID:        configID,
		Action:          action,
		Actor:           actor,
		PreviousVersion: intPtr(current.Version),
		NewVersion:      intPtr(current.Version),
	})
	s.invalidateCache(ctx)

	return nil
}

// DeleteConfig soft-deletes every version of a config.
func (s *ConfigService) DeleteConfig(ctx context.Context, configID, actor, reason string) error {
	current, err := s.GetConfig(ctx, configID)
	if err != nil {
		return err
	}

	if err := s.repoManager.Config.SoftDelete(configID); err != nil {
		return err
	}

	s.audit(&models.SentimentConfigAudit{
		ConfigID:        configID,
		Action:          "delete",
		Actor:           actor,
		PreviousVersion: intPtr(current.Version),
		Reason:          reason,
	})
	s.invalidateCache(ctx)

	return nil
}

// RollbackConfig re-inserts the historical snapshot at toVersion as a new
// version. Forward-only versioning: never a destructive revert.
func (s *ConfigService) RollbackConfig(ctx context.Context, configID string, toVersion int, actor, reason string) (*models.SentimentConfig, error) {
	current, err := s.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repoManager.Config.Version(configID, toVersion)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	next := *snapshot
	next.RowID = 0
	next.Version = current.Version + 1
	next.CreatedBy = actor
	next.CreatedAt = time.Time{}
	next.UpdatedAt = time.Time{}

	if err := s.repoManager.Config.Insert(&next); err != nil {
		return nil, err
	}

	s.audit(&models.SentimentConfigAudit{
		ConfigID:        configID,
		Action:          "rollback",
		Actor:           actor,
		PreviousVersion: intPtr(current.Version),
		NewVersion:      intPtr(next.Version),
		Diff:            models.JSONMap{"restored_version": toVersion},
		Reason:          reason,
	})
	s.invalidateCache(ctx)

	s.logger.WithFields(logrus.Fields{
		"config_id":        configID,
		"restored_version": toVersion,
		"new_version":      next.Version,
	}).Info("Sentiment config rolled back")

	return &next, nil
}

// GetAuditHistory returns the most recent 100 audit entries, newest first.
func (s *ConfigService) GetAuditHistory(ctx context.Context, configID string) ([]models.SentimentConfigAudit, error) {
	return s.repoManager.Audit.History(configID, 100)
}

// audit appends a lifecycle entry; the audit trail must not block the
// operation it records.
func (s *ConfigService) audit(entry *models.SentimentConfigAudit) {
	if err := s.repoManager.Audit.Append(entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"config_id": entry.ConfigID,
			"action":    entry.Action,
		}).Error("Failed to append config audit entry")
	}
}

func (s *ConfigService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateEffectiveConfigs(ctx); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate effective config cache")
	}
}

func intPtr(v int) *int { return &v }
