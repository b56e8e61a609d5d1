package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/services"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

type ConfigHandler struct {
	configService *services.ConfigService
	logger        *logrus.Logger
}

func NewConfigHandler(configService *services.ConfigService, logger *logrus.Logger) *ConfigHandler {
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// HandleCreateConfig creates version 1 of a new sentiment config.
func (h *ConfigHandler) HandleCreateConfig(c *gin.Context) {
	var cfg models.SentimentConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid config format", err)
		return
	}

	created, err := h.configService.CreateConfig(c.Request.Context(), &cfg, actor(c))
	if err != nil {
		if isValidationError(err) {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid config", err)
			return
		}
		h.logger.WithError(err).Error("Failed to create config")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to create config", err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"config_id": created.ConfigID,
		"scope":     created.Scope,
	}).Info("Config created")

	utils.SuccessResponse(c, http.StatusCreated, "Config created", created)
}

// HandleGetConfig returns the current version of a config.
func (h *ConfigHandler) HandleGetConfig(c *gin.Context) {
	cfg, err := h.configService.GetConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondConfigError(c, err, "Failed to get config")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Config retrieved", cfg)
}

// HandleListConfigs lists the current version of every non-deleted config.
func (h *ConfigHandler) HandleListConfigs(c *gin.Context) {
	configs, err := h.configService.ListConfigs(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list configs")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list configs", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Configs retrieved", configs)
}

// HandleGetEffectiveConfig resolves the config a scope actually runs under.
func (h *ConfigHandler) HandleGetEffectiveConfig(c *gin.Context) {
	scope := c.DefaultQuery("scope", models.ScopeGlobal)
	scopeID := c.Query("scope_id")

	cfg, err := h.configService.GetEffectiveConfig(c.Request.Context(), scope, scopeID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve effective config")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to resolve effective config", err)
		return
	}
	if cfg == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "No enabled config for scope", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Effective config resolved", cfg)
}

// HandleUpdateConfig appends a new version with the request's changes applied.
func (h *ConfigHandler) HandleUpdateConfig(c *gin.Context) {
	var update models.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid update format", err)
		return
	}

	updated, err := h.configService.UpdateConfig(c.Request.Context(), c.Param("id"), update, actor(c))
	if err != nil {
		if isValidationError(err) {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid config", err)
			return
		}
		h.respondConfigError(c, err, "Failed to update config")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Config updated", updated)
}

// HandleToggleConfig flips the enabled flag in place, without a new version.
func (h *ConfigHandler) HandleToggleConfig(c *gin.Context) {
	var req models.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid toggle format", err)
		return
	}

	if err := h.configService.ToggleConfig(c.Request.Context(), c.Param("id"), req.Enabled, actor(c)); err != nil {
		h.respondConfigError(c, err, "Failed to toggle config")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Config toggled", gin.H{"enabled": req.Enabled})
}

// HandleDeleteConfig soft-deletes a config lineage.
func (h *ConfigHandler) HandleDeleteConfig(c *gin.Context) {
	reason := c.Query("reason")
	if err := h.configService.DeleteConfig(c.Request.Context(), c.Param("id"), actor(c), reason); err != nil {
		h.respondConfigError(c, err, "Failed to delete config")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Config deleted", nil)
}

// HandleGetVersions returns the full version history, newest first.
func (h *ConfigHandler) HandleGetVersions(c *gin.Context) {
	versions, err := h.configService.GetVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondConfigError(c, err, "Failed to get versions")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Versions retrieved", versions)
}

// HandleRollbackConfig restores a prior version's snapshot as a new version.
func (h *ConfigHandler) HandleRollbackConfig(c *gin.Context) {
	var req models.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid rollback format", err)
		return
	}

	cfg, err := h.configService.RollbackConfig(c.Request.Context(), c.Param("id"), req.ToVersion, actor(c), req.Reason)
	if err != nil {
		h.respondConfigError(c, err, "Failed to rollback config")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Config rolled back", cfg)
}

// HandleGetAuditHistory returns the append-only audit trail for a config.
func (h *ConfigHandler) HandleGetAuditHistory(c *gin.Context) {
	entries, err := h.configService.GetAuditHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to get audit history")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get audit history", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Audit history retrieved", entries)
}

func (h *ConfigHandler) respondConfigError(c *gin.Context, err error, msg string) {
	if errors.Is(err, services.ErrConfigNotFound) {
		utils.ErrorResponse(c, http.StatusNotFound, "Config not found", nil)
		return
	}
	h.logger.WithError(err).Error(msg)
	utils.ErrorResponse(c, http.StatusInternalServerError, msg, err)
}

// actor identifies who performed a mutation, for the audit trail.
func actor(c *gin.Context) string {
	if user := c.GetHeader("X-User-ID"); user != "" {
		return user
	}
	return "anonymous"
}

func isValidationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "invalid ") || strings.Contains(msg, "required") || strings.Contains(msg, "must be")
}
