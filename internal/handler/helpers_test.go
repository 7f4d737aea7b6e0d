package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"camo/internal/domain"
	"camo/internal/httputil"
)

func TestHandleError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &domain.ValidationError{Resource: "User", Fields: map[string]error{"name": errors.New("cannot be blank")}}, http.StatusBadRequest},
		{"body too large", httputil.ErrBodyTooLarge, http.StatusRequestEntityTooLarge},
		{"invalid argument", fmt.Errorf("parse id: %w", domain.ErrInvalidArgument), http.StatusBadRequest},
		{"not found", &domain.NotFoundError{Message: "User 1 not found"}, http.StatusNotFound},
		{"wrapped conflict", fmt.Errorf("save: %w", &domain.ConflictError{Message: "duplicate"}), http.StatusConflict},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleError(rec, logger, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := rec.Header().Get("Content-Type"); got != "application/problem+json" {
				t.Errorf("content type = %q", got)
			}
		})
	}
}
