// Package handler adapts the proxy services to Echo routes.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"stream-proxy-go/internal/model"
	"stream-proxy-go/internal/service"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeResult renders a service result.
func writeResult(c echo.Context, res model.Result) error {
	switch r := res.(type) {
	case model.Redirect:
		return c.Redirect(http.StatusFound, r.Location)
	case model.HTMLPage:
		return c.Blob(http.StatusOK, r.ContentType, r.Body)
	case model.JSONBody:
		return c.JSONBlob(r.StatusCode, r.Value)
	case model.ErrorBody:
		return c.JSON(r.StatusCode, errorBody{Error: r.Message, Details: r.Details})
	default:
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "unsupported result"})
	}
}

// writeError maps a service error to a status code and JSON body. Errors
// that are not *service.RequestError are reported as 500 with fallback as
// the message.
func writeError(c echo.Context, logger *slog.Logger, err error, fallback string) error {
	var re *service.RequestError
	if !errors.As(err, &re) {
		logger.Error("internal error",
			"err", service.SanitizeError(err),
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusInternalServerError, errorBody{
			Error:   fallback,
			Details: service.SanitizeError(err),
		})
	}

	status := statusFor(re)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"err", service.SanitizeError(err),
			"status", status,
			"path", c.Request().URL.Path,
		)
	} else {
		logger.Debug("request rejected", "err", err, "status", status)
	}

	return c.JSON(status, errorBody{Error: re.Message, Details: re.Details})
}

func statusFor(re *service.RequestError) int {
	switch {
	case errors.Is(re.Kind, service.ErrMissingParameter):
		return http.StatusBadRequest
	case errors.Is(re.Kind, service.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(re.Kind, service.ErrUnexpectedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
