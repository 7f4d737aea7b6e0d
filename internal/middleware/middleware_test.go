package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"camo/internal/auth"
	"camo/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

type stubVerifier struct {
	mu     sync.Mutex
	tokens []string
}

func (s *stubVerifier) VerifyToken(token string) (*auth.Claims, error) {
	s.mu.Lock()
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()

	if token != "good" {
		return nil, domain.ErrUnauthorized
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, nil
}

func (s *stubVerifier) Close() error { return nil }

func TestAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := &stubVerifier{}

	var seenUser string
	h := AuthMiddleware(verifier, logger, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = domain.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		path     string
		header   string
		wantCode int
		wantUser string
	}{
		{"public path", "/health", "", http.StatusNoContent, ""},
		{"missing token", "/api/users", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/api/users", "Basic good", http.StatusUnauthorized, ""},
		{"bad token", "/api/users", "Bearer bad", http.StatusUnauthorized, ""},
		{"good token", "/api/users", "bearer good", http.StatusNoContent, "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenUser = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if seenUser != tt.wantUser {
				t.Errorf("user = %q, want %q", seenUser, tt.wantUser)
			}
			if rec.Code == http.StatusUnauthorized && !strings.Contains(rec.Header().Get("Content-Type"), "problem+json") {
				t.Errorf("content type = %q, want problem details", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("log = %q, want the recovered panic", buf.String())
	}
}

func TestRecovery_AfterWrite(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want the handler's 202", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want nothing appended", rec.Body.String())
	}
}

func TestRecovery_AbortHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", v)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
