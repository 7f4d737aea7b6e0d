package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"camo/internal/domain"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// allowedAlgorithms prevents algorithm confusion attacks
var allowedAlgorithms = []string{"RS256", "ES256"}

// KeyVerifier implements JWTVerifier over a key lookup function.
type KeyVerifier struct {
	keyfunc jwt.Keyfunc
	parser  []jwt.ParserOption
	stop    context.CancelFunc
	logger  *slog.Logger
}

// VerifyOption adds a claim requirement to a KeyVerifier
type VerifyOption func(*KeyVerifier)

// WithIssuer requires the iss claim to equal issuer. Empty disables the check.
func WithIssuer(issuer string) VerifyOption {
	return func(v *KeyVerifier) {
		if issuer != "" {
			v.parser = append(v.parser, jwt.WithIssuer(issuer))
		}
	}
}

// WithAudience requires aud to contain audience. Empty disables the check.
func WithAudience(audience string) VerifyOption {
	return func(v *KeyVerifier) {
		if audience != "" {
			v.parser = append(v.parser, jwt.WithAudience(audience))
		}
	}
}

// NewJWTVerifier creates a verifier that fetches public keys from a JWKS endpoint.
// keyfunc v3 caches the keys and refreshes them in the background until Close.
func NewJWTVerifier(ctx context.Context, jwksURL string, logger *slog.Logger, opts ...VerifyOption) (*KeyVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}

	refreshCtx, stop := context.WithCancel(ctx)
	jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	logger.Info("JWT verifier initialized", "jwks_url", jwksURL)
	v := NewKeyVerifier(jwks.Keyfunc, logger, opts...)
	v.stop = stop
	return v, nil
}

// NewKeyVerifier creates a verifier resolving signing keys with fn
func NewKeyVerifier(fn jwt.Keyfunc, logger *slog.Logger, opts ...VerifyOption) *KeyVerifier {
	v := &KeyVerifier{
		keyfunc: fn,
		parser: []jwt.ParserOption{
			jwt.WithValidMethods(allowedAlgorithms),
			jwt.WithExpirationRequired(),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyToken validates a JWT token and extracts its claims.
func (v *KeyVerifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyfunc, v.parser...)
	if err != nil {
		v.logger.Debug("token rejected", "error", err)
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		v.logger.Warn("failed to extract claims from token")
		return nil, domain.ErrUnauthorized
	}

	// Validate user ID exists (sub claim)
	if claims.Subject == "" {
		v.logger.Debug("token missing subject claim")
		return nil, domain.ErrUnauthorized
	}

	// Reject anonymous tokens
	if claims.Role == "anon" {
		v.logger.Debug("anonymous token rejected", "user_id", claims.Subject)
		return nil, domain.ErrUnauthorized
	}

	return claims, nil
}

// Close stops the background key refresh
func (v *KeyVerifier) Close() error {
	if v.stop != nil {
		v.stop()
	}
	v.logger.Info("JWT verifier closed")
	return nil
}
