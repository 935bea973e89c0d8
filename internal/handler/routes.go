package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/metrics"
)

// Routes groups the handlers registered by RegisterRoutes.
type Routes struct {
	DirectLink *DirectLinkHandler
	Embed      *EmbedHandler
	Metadata   *MetadataHandler
	Health     *HealthHandler
}

// RegisterRoutes wires all route handlers onto the Echo instance and tracks
// each route as a metrics label. The metrics endpoint is only mounted when
// metrics are enabled and m is non-nil.
func RegisterRoutes(e *echo.Echo, r Routes, cfg *config.Config, m *metrics.Metrics) {
	get := func(path string, h echo.HandlerFunc) {
		e.GET(path, h)
		if m != nil {
			m.TrackRoute(path)
		}
	}

	get("/healthz", r.Health.Healthz)
	get("/proxy/status", r.Health.Status)

	get("/api/player-proxy", r.DirectLink.Handle)
	get("/api/superembed-proxy", r.Embed.Handle)
	get("/api/watchmode-proxy", r.Metadata.Handle)

	if cfg.Metrics.Enabled && m != nil {
		get(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
