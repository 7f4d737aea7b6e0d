package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"camo/internal/document"
	"camo/internal/domain"
	"camo/internal/repository/memory"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&domain.ValidationError{Resource: "users"}, OutcomeValidation},
		{fmt.Errorf("save users: %w", &domain.ConflictError{Message: "dup"}), OutcomeConflict},
		{&document.ArgumentError{Verb: "findOne", Missing: "query"}, OutcomeInvalid},
		{errors.New("boom"), OutcomeError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestMiddleware_CountsOperations(t *testing.T) {
	r := document.NewRegistry(memory.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Use(Middleware())

	gauge, err := r.Register("MetricsGauge", []*document.Field{document.String("label", document.Required())})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	okBefore := testutil.ToFloat64(operationsTotal.WithLabelValues("save", "MetricsGauge", OutcomeOK))
	badBefore := testutil.ToFloat64(operationsTotal.WithLabelValues("save", "MetricsGauge", OutcomeValidation))

	doc := gauge.New()
	if err := doc.Set("label", "a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := gauge.New().Save(ctx); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Save without label: %v, want validation error", err)
	}

	if got := testutil.ToFloat64(operationsTotal.WithLabelValues("save", "MetricsGauge", OutcomeOK)) - okBefore; got != 1 {
		t.Errorf("ok saves = %v, want 1", got)
	}
	if got := testutil.ToFloat64(operationsTotal.WithLabelValues("save", "MetricsGauge", OutcomeValidation)) - badBefore; got != 1 {
		t.Errorf("rejected saves = %v, want 1", got)
	}
}

func TestInstrument(t *testing.T) {
	h := Instrument("/test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/test", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/test", "418")) - before; got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}

func TestInstrument_MuxPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /things/{id}", func(w http.ResponseWriter, r *http.Request) {})
	h := Instrument("", mux)

	matched := httpRequestsTotal.WithLabelValues("GET", "GET /things/{id}", "200")
	unmatched := httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")
	matchedBefore, unmatchedBefore := testutil.ToFloat64(matched), testutil.ToFloat64(unmatched)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/7", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nothing", nil))

	if got := testutil.ToFloat64(matched) - matchedBefore; got != 1 {
		t.Errorf("matched requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(unmatched) - unmatchedBefore; got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
}
