package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"stream-proxy-go/internal/service"
)

// EmbedHandler resolves players from the embed provider.
type EmbedHandler struct {
	service *service.EmbedService
	logger  *slog.Logger
}

// NewEmbedHandler creates an EmbedHandler.
func NewEmbedHandler(svc *service.EmbedService, logger *slog.Logger) *EmbedHandler {
	return &EmbedHandler{
		service: svc,
		logger:  logger.With("component", "embed_handler"),
	}
}

// Handle redirects to the resolved player or serves the player page inline.
func (h *EmbedHandler) Handle(c echo.Context) error {
	res, err := h.service.Resolve(c.Request().Context(), c.QueryParams())
	if err != nil {
		return writeError(c, h.logger, err, "Internal server error while fetching player.")
	}
	return writeResult(c, res)
}
