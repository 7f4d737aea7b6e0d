package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"camo/internal/domain"
	"camo/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validationErr *domain.ValidationError
	var httpErr domain.HTTPError

	switch {
	case errors.As(err, &validationErr):
		fields := make(map[string]string, len(validationErr.Fields))
		for name, fieldErr := range validationErr.Fields {
			fields[name] = fieldErr.Error()
		}
		httputil.RespondErrorWithExtras(w, http.StatusBadRequest, validationErr.Error(), map[string]any{
			"resource": validationErr.Resource,
			"errors":   fields,
		})
	case errors.Is(err, httputil.ErrBodyTooLarge):
		httputil.RespondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &httpErr):
		httputil.RespondError(w, httpErr.StatusCode(), httpErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.Error("request failed", "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
