package domain

import "context"

// Principal is the authenticated caller of an operation
type Principal struct {
	UserID string
	Role   string
}

type principalKey struct{}

// WithPrincipal attaches p to ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx. ok is false when the
// request was not authenticated, for example when auth is disabled.
func PrincipalFrom(ctx context.Context) (p Principal, ok bool) {
	p, ok = ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// UserID returns the user attached to ctx, or ""
func UserID(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.UserID
}
