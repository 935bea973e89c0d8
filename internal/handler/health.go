package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"stream-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. The metadata key itself is never
// exposed, only whether one is configured.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":                  "ok",
		"version":                 string(h.version),
		"direct_stream_url":       h.cfg.DirectStream.BaseURL,
		"embed_url":               h.cfg.Embed.BaseURL,
		"metadata_url":            h.cfg.Metadata.BaseURL,
		"metadata_key_configured": strconv.FormatBool(h.cfg.Metadata.APIKey != ""),
	})
}
