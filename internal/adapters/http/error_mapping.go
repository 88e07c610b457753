package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrReindexInProgress):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal detail for server-side failures.
func publicErrorMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict:
		return err.Error()
	case http.StatusServiceUnavailable:
		return "upstream service temporarily unavailable"
	case http.StatusBadGateway:
		return "upstream service error"
	case http.StatusGatewayTimeout:
		return "request timed out"
	default:
		return "internal error"
	}
}
