// Package middleware provides HTTP middleware for the droplink API.
package middleware

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/errors"
	"github.com/R3E-Network/droplink/internal/httputil"
	"github.com/R3E-Network/droplink/internal/logging"
)

type callerKey struct{}

// Claims are the JWT claims identifying the calling account.
type Claims struct {
	Address    string `json:"address"`
	AuthMethod string `json:"auth_method,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates RS256 bearer tokens and puts the caller
// address in the request context.
type AuthMiddleware struct {
	publicKey *rsa.PublicKey
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the middleware. Requests to skipPaths pass through
// unauthenticated.
func NewAuthMiddleware(publicKey *rsa.PublicKey, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		publicKey: publicKey,
		logger:    logger,
		skipPaths: skip,
	}
}

// LoadPublicKey reads a PEM encoded RSA public key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return key, nil
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("missing Authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, r, errors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, addr, err := m.validateToken(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithCaller(r.Context(), addr)
		m.logger.WithContext(ctx).WithField("auth_method", claims.AuthMethod).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, chain.Address, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, chain.Address{}, errors.InvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, chain.Address{}, errors.InvalidToken(nil).WithDetails("reason", "invalid claims")
	}

	addr, err := chain.ParseAddress(claims.Address)
	if err != nil || addr.IsZero() {
		return nil, chain.Address{}, errors.InvalidToken(err).WithDetails("reason", "invalid address claim")
	}
	return claims, addr, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("authentication failed", err)
	}
	httputil.WriteError(w, serviceErr)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
		"error":  err.Error(),
	})
}

// WithCaller stores the authenticated caller address in ctx.
func WithCaller(ctx context.Context, addr chain.Address) context.Context {
	ctx = context.WithValue(ctx, callerKey{}, addr)
	return logging.WithCaller(ctx, addr.Hex())
}

// GetCaller returns the authenticated caller address, if any.
func GetCaller(ctx context.Context) (chain.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(chain.Address)
	return addr, ok && !addr.IsZero()
}

// RequireCaller rejects requests without an authenticated caller.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetCaller(r.Context()); !ok {
			httputil.Unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
