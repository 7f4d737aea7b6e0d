package document

import (
	"context"
	"log/slog"
	"time"

	"camo/internal/domain"
)

// Operation identifies the engine verb being executed.
type Operation string

const (
	OperationSave   Operation = "save"
	OperationDelete Operation = "delete"
	OperationFind   Operation = "find"
	OperationUpdate Operation = "update"
	OperationRemove Operation = "remove"
	OperationCount  Operation = "count"
	OperationIndex  Operation = "index"
	OperationClear  Operation = "clear"
)

// Handler executes one operation against a document type.
type Handler func(ctx context.Context, op Operation, t *Type) error

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(next Handler) Handler

// Use appends a middleware. The most recently added middleware runs outermost.
func (r *Registry) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// dispatch runs exec through the middleware chain.
func (r *Registry) dispatch(ctx context.Context, op Operation, t *Type, exec func(ctx context.Context) error) error {
	r.mu.RLock()
	chain := make([]Middleware, len(r.middleware))
	copy(chain, r.middleware)
	r.mu.RUnlock()

	h := Handler(func(ctx context.Context, _ Operation, _ *Type) error {
		return exec(ctx)
	})
	for i := 0; i < len(chain); i++ {
		h = chain[i](h)
	}
	return h(ctx, op, t)
}

// LoggingMiddleware logs every operation with its duration and the
// principal carried by the context, if any.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, t *Type) error {
			start := time.Now()
			err := next(ctx, op, t)

			attrs := []any{
				"operation", op,
				"collection", t.CollectionName(),
				"duration", time.Since(start),
			}
			if p, ok := domain.PrincipalFrom(ctx); ok {
				attrs = append(attrs, "user_id", p.UserID)
			}
			if err != nil {
				logger.Debug("document operation failed", append(attrs, "error", err)...)
				return err
			}
			logger.Debug("document operation", attrs...)
			return nil
		}
	}
}
