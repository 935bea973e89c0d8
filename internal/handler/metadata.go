package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"stream-proxy-go/internal/service"
)

// MetadataHandler relays requests to the metadata API.
type MetadataHandler struct {
	service *service.MetadataService
	logger  *slog.Logger
}

// NewMetadataHandler creates a MetadataHandler.
func NewMetadataHandler(svc *service.MetadataService, logger *slog.Logger) *MetadataHandler {
	return &MetadataHandler{
		service: svc,
		logger:  logger.With("component", "metadata_handler"),
	}
}

// Handle relays the upstream JSON (or a normalized error) to the client.
func (h *MetadataHandler) Handle(c echo.Context) error {
	req := c.Request()
	res, err := h.service.Relay(req.Context(), c.QueryParams(), req.Header)
	if err != nil {
		return writeError(c, h.logger, err, "Failed to fetch data from metadata API via proxy.")
	}
	return writeResult(c, res)
}
