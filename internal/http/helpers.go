package http

import (
	"context"
	"errors"
	"net/http"

	"fincontrol/internal/advisor"
	"fincontrol/internal/core"
	"fincontrol/internal/finance"
	"fincontrol/internal/ledger"
	"fincontrol/internal/log"
)

var validationErrors = []error{
	core.ErrInvalidDay,
	core.ErrInvalidMonth,
	core.ErrInvalidAmount,
	core.ErrInvalidKind,
	core.ErrInvalidLimit,
	core.ErrEmptyDescription,
	core.ErrLongDescription,
	core.ErrEmptyName,
	finance.ErrInstallmentCount,
}

// statusFor maps a domain or store error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, core.ErrMalformedRecord):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrPersistence), errors.Is(err, advisor.ErrNoGenerator):
		return http.StatusServiceUnavailable
	case errors.Is(err, advisor.ErrEmptyAdvice):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// clientMessage hides internal details of server-side failures.
func clientMessage(status int, err error) string {
	switch status {
	case http.StatusServiceUnavailable:
		if errors.Is(err, advisor.ErrNoGenerator) {
			return "advice is not configured"
		}
		return "change not persisted, please retry"
	case http.StatusBadGateway:
		return "advice service returned no text"
	case http.StatusGatewayTimeout:
		return "request timed out"
	case http.StatusInternalServerError:
		return "internal error"
	}
	return err.Error()
}

// writeError logs err and writes the matching JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldStatusCode, status,
			log.FieldError, err)
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	ErrorResponse(status, clientMessage(status, err)).Write(w)
}
