// Package admin serves the operational endpoints: health, config
// inspection, and config reload.
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/config"
	"github.com/filegate/service/internal/credentials"
	"github.com/filegate/service/internal/response"
	"github.com/filegate/service/internal/storage"
)

// Handler wires config reloads through to the components holding derived
// state: the storage resolver and the credential store.
type Handler struct {
	cfg      *config.Store
	resolver *storage.Resolver
	creds    *credentials.Store
	log      *zap.Logger
}

func NewHandler(cfg *config.Store, resolver *storage.Resolver, creds *credentials.Store, log *zap.Logger) *Handler {
	return &Handler{cfg: cfg, resolver: resolver, creds: creds, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/config", h.GetConfig)
	r.Post("/config/reload", h.ReloadConfig)
}

// redactedConfig is the client-visible view; secrets never leave the server.
type redactedConfig struct {
	AppEnv            string   `json:"app_env"`
	RequireAuth       bool     `json:"require_auth"`
	WhitelistIPs      []string `json:"whitelist_ips"`
	WhitelistDomains  []string `json:"whitelist_domains"`
	RateLimitStrategy string   `json:"rate_limit_strategy"`
	RateLimitRequests int      `json:"rate_limit_requests"`
	RateLimitWindow   string   `json:"rate_limit_window"`
	StorageType       string   `json:"storage_type"`
	MaxFileSize       int64    `json:"max_file_size"`
	AllowedExtensions []string `json:"allowed_extensions"`
	KeyStrategy       string   `json:"key_strategy"`
	DuplicatePolicy   string   `json:"duplicate_policy"`
}

func redact(cfg *config.Config) redactedConfig {
	return redactedConfig{
		AppEnv:            cfg.AppEnv,
		RequireAuth:       cfg.RequireAuth,
		WhitelistIPs:      cfg.WhitelistIPs,
		WhitelistDomains:  cfg.WhitelistDomains,
		RateLimitStrategy: cfg.RateLimitStrategy,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow.String(),
		StorageType:       cfg.StorageType,
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: cfg.AllowedExtensions,
		KeyStrategy:       cfg.KeyStrategy,
		DuplicatePolicy:   cfg.DuplicatePolicy,
	}
}

// GetConfig godoc
// @Summary      Inspect the active configuration
// @Tags         admin
// @Produce      json
// @Success      200  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /config [get]
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	response.OK(w, "config", redact(h.cfg.Current()))
}

// ReloadConfig godoc
// @Summary      Reload configuration from its sources
// @Description  Validates the whole document first; on failure the prior config stays active
// @Tags         admin
// @Produce      json
// @Success      200  {object}  response.Envelope
// @Failure      400  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /config/reload [post]
func (h *Handler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.cfg.Prepare()
	if err != nil {
		h.log.Warn("config reload rejected", zap.Error(err))
		response.FailErr(w, apperr.Wrap(apperr.CodeBadRequest, "config rejected, prior config retained", err))
		return
	}

	// Build the driver from the candidate before publishing anything, so a
	// failed rebuild never leaves the new config running on the old driver.
	driver, err := storage.FromConfig(r.Context(), cfg, h.log)
	if err != nil {
		h.log.Error("storage driver rebuild failed, prior config and driver retained", zap.Error(err))
		response.FailErr(w, apperr.Wrap(apperr.CodeStorageUnavailable, "storage driver rebuild failed, prior config retained", err))
		return
	}

	h.cfg.Commit(cfg)
	h.resolver.Swap(driver)
	h.creds.Rotate(&credentials.Set{
		AdminUser:         cfg.AdminUser,
		AdminPassword:     cfg.AdminPassword,
		AdminPasswordHash: cfg.AdminPasswordHash,
		JWTSecret:         []byte(cfg.JWTSecret),
		AccessTTL:         cfg.AccessTokenTTL,
		RefreshTTL:        cfg.RefreshTokenTTL,
	})

	h.log.Info("config reloaded", zap.String("storage_type", cfg.StorageType))
	response.OK(w, "config", redact(cfg))
}

// Health godoc
// @Summary      Liveness probe
// @Tags         admin
// @Produce      json
// @Success      200  {object}  response.Envelope
// @Router       /health [get]
func Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, "health", map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
