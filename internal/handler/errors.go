package handler

import (
	"errors"
	"fmt"
	"net/http"

	"crypto-paper-trader/internal/domain"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnsupportedSymbol), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoOpenPosition):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPositionConflict), errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if errors.Is(err, domain.ErrUnsupportedSymbol) {
		body["supported_symbols"] = domain.SupportedSymbols
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, body)
}

func unsupported(symbol string) error {
	return fmt.Errorf("%w: %s", domain.ErrUnsupportedSymbol, symbol)
}
