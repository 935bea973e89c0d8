package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"stream-proxy-go/internal/service"
)

// DirectLinkHandler redirects clients to the direct-stream player.
type DirectLinkHandler struct {
	service *service.DirectLinkService
	logger  *slog.Logger
}

// NewDirectLinkHandler creates a DirectLinkHandler.
func NewDirectLinkHandler(svc *service.DirectLinkService, logger *slog.Logger) *DirectLinkHandler {
	return &DirectLinkHandler{
		service: svc,
		logger:  logger.With("component", "direct_link_handler"),
	}
}

// Handle responds with a 302 to the direct-stream URL.
func (h *DirectLinkHandler) Handle(c echo.Context) error {
	res, err := h.service.Resolve(c.QueryParams())
	if err != nil {
		return writeError(c, h.logger, err, "Internal server error while preparing player redirect.")
	}
	return writeResult(c, res)
}
