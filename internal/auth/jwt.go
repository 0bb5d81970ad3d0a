// Package auth provides JWT-based authentication middleware with metrics.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/acl"
	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metrics"
)

type contextKey string

const (
	claimsContextKey contextKey = "claims"
)

const issuer = "tenantfs"

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = 30 * 24 * time.Hour

// Claims holds JWT token claims. Subject is the caller's user id.
type Claims struct {
	Tenant     string   `json:"tenant"`
	Root       bool     `json:"root,omitempty"`
	AccessFull []string `json:"access_full,omitempty"`
	AccessEdit []string `json:"access_edit,omitempty"`
	AccessRead []string `json:"access_read,omitempty"`
	jwt.RegisteredClaims
}

// IsRoot implements acl.Identity.
func (c *Claims) IsRoot() bool {
	return c.Root
}

// User implements acl.Identity.
func (c *Claims) User() acl.User {
	return acl.User{
		ID:   c.Subject,
		Full: c.AccessFull,
		Edit: c.AccessEdit,
		Read: c.AccessRead,
	}
}

// Auth handles JWT authentication.
type Auth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Auth.
type Option func(*Auth)

// WithTTL sets the lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(a *Auth) { a.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// New creates a new Auth handler.
func New(jwtSecret string, opts ...Option) *Auth {
	a := &Auth{
		secret: []byte(jwtSecret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Middleware returns HTTP middleware that validates JWT tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.Validate(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.Debug("token rejected", zap.Error(err))
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		metrics.RecordAuthAttempt(true)
		ctx := logging.With(WithClaims(r.Context(), claims),
			zap.String("tenant", claims.Tenant), zap.String("subject", claims.Subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Issue signs a token for the given claims. Registered fields other than
// Subject are filled in.
func (a *Auth) Issue(claims Claims) (string, time.Time, error) {
	if claims.Subject == "" && !claims.Root {
		return "", time.Time{}, errors.New("subject required")
	}
	if claims.Tenant == "" {
		return "", time.Time{}, errors.New("tenant required")
	}
	now := a.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	logging.Info("token issued",
		zap.String("subject", claims.Subject),
		zap.String("tenant", claims.Tenant),
		zap.Bool("root", claims.Root))
	return tokenStr, claims.ExpiresAt.Time, nil
}

// Validate parses tokenStr and checks its signature, issuer and expiry.
func (a *Auth) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))

	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Tenant == "" {
		return nil, fmt.Errorf("token has no tenant")
	}
	return claims, nil
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// WithClaims injects claims into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// WebDAV clients only speak Basic; the password carries the token
	if _, password, ok := r.BasicAuth(); ok {
		return password
	}
	// EventSource cannot set headers
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="tenantfs"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"code":   "UNAUTHORIZED",
		"status": status,
	})
}
