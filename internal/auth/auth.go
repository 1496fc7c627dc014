// Package auth issues and verifies the bearer tokens accepted by
// internal/api's auth middleware. Spec.md §1 treats authentication as an
// external collaborator; this is the minimal concrete implementation a
// runnable repo needs to exercise the auth.tokenSecret / auth.tokenTTL
// config keys. It is grounded on the JWT issuance/validation shape from
// the retrieval pack's zayar-cashflow_backend/utils/token.go, adapted from
// its deprecated dgrijalva/jwt-go dependency to that library's maintained
// successor, and from gin middleware to chi middleware to match the
// teacher's router.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role enumerates the two privilege levels this ledger recognizes.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

// Claims is the JWT payload issued for an authenticated user.
type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New creates an Issuer from the auth.tokenSecret / auth.tokenTTL config
// values.
func New(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed bearer token for userID/role.
func (i *Issuer) Issue(userID string, role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a bearer token, returning its claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type ctxKey int

const claimsKey ctxKey = iota

// Middleware validates the Authorization: Bearer <token> header and
// stashes the parsed Claims in the request context. Requests with no
// Authorization header are rejected here rather than allowed through
// unauthenticated — every spec §6 endpoint requires a caller identity.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeUnauthorized(w, ErrMissingToken.Error())
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims, err := i.Verify(raw)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin wraps a handler with an additional check that the caller's
// role is RoleAdmin. Must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := FromContext(r.Context())
		if claims == nil || claims.Role != RoleAdmin {
			writeEnvelope(w, http.StatusForbidden, "auth: admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeUnauthorized and writeEnvelope match spec §6's error envelope
// ({success:false, message}) so auth failures, which short-circuit before
// internal/api's own handlers run, still speak the same wire shape.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusUnauthorized, message)
}

func writeEnvelope(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}

// FromContext extracts the Claims stashed by Middleware, or nil if absent.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}
