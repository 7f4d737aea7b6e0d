package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"camo/internal/document"
	"camo/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeConflict   = "conflict"
	OutcomeInvalid    = "invalid_argument"
	OutcomeError      = "error"
)

var (
	namespace = "camo"

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "document",
			Name:      "operations_total",
			Help:      "Total number of document operations by type and outcome",
		},
		[]string{"operation", "type", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "document",
			Name:      "operation_duration_seconds",
			Help:      "Time taken by document operations, including hooks and population",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation", "type"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// Outcome classifies an operation error for the outcome label
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, domain.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, domain.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return OutcomeInvalid
	}
	return OutcomeError
}

// Middleware records the count, outcome and duration of every engine operation
func Middleware() document.Middleware {
	return func(next document.Handler) document.Handler {
		return func(ctx context.Context, op document.Operation, t *document.Type) error {
			start := time.Now()
			err := next(ctx, op, t)

			operationDuration.WithLabelValues(string(op), t.Name()).Observe(time.Since(start).Seconds())
			operationsTotal.WithLabelValues(string(op), t.Name(), Outcome(err)).Inc()
			return err
		}
	}
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument counts requests served by next under the given route label.
// An empty route uses the pattern a ServeMux matched, or "unmatched".
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		label := route
		if label == "" {
			label = r.Pattern
		}
		if label == "" {
			label = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
