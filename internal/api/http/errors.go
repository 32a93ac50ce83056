package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errpkg.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errpkg.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errpkg.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, errpkg.ErrTaskNotFound), errors.Is(err, errpkg.ErrRepoNotFound),
		errors.Is(err, errpkg.ErrFeatureDisabled):
		return http.StatusNotFound
	case errors.Is(err, errpkg.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message. Server errors never leak
// their cause.
func messageFor(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return http.StatusText(http.StatusInternalServerError)
	}
	var ue *errpkg.UserError
	if errors.As(err, &ue) {
		return ue.Msg
	}
	switch {
	case errors.Is(err, errpkg.ErrRepoNotFound):
		return "Library not found."
	case errors.Is(err, errpkg.ErrFeatureDisabled):
		return featureDisabledMsg
	}
	return http.StatusText(status)
}

func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	attrs := []any{
		"error", err,
		"status", status,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, attrs...)
	} else {
		logger.Warn(msg, attrs...)
	}
	writeError(w, status, messageFor(err, status))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error_msg": message,
	})
}
