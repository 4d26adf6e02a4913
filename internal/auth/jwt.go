// Package auth validates RS256 bearer tokens for the observability API
// and enforces per-route scopes.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes granted by the token issuer.
const (
	ScopeRunsRead   = "runs.read"
	ScopeRunsRetry  = "runs.retry"
	ScopeLogsRead   = "logs.read"
	ScopeDealsWrite = "deals.write"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// Claims is the validated identity attached to a request.
type Claims struct {
	Subject  string
	TenantID string
	Scopes   []string
}

// HasScope reports whether the claim set carries scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator checks RS256 tokens against a fixed public key, issuer and
// audience. A disabled validator passes every request through with a
// wildcard claim set, for local runs without an issuer.
type Validator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
	disabled  bool
}

// NewValidator parses publicKeyPEM (PKCS1 or PKIX) and returns a
// validator bound to issuer and audience.
func NewValidator(publicKeyPEM, issuer, audience string) (*Validator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %v", err)
		}
		var ok bool
		publicKey, ok = key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
	}

	return &Validator{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
	}, nil
}

// NewDisabledValidator returns a validator that admits every request.
func NewDisabledValidator() *Validator {
	return &Validator{disabled: true}
}

// ValidateToken verifies signature, issuer and audience, and extracts
// the subject, tenant and scopes.
func (v *Validator) ValidateToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("failed to parse token: %v", err)
	}
	if !token.Valid {
		return Claims{}, fmt.Errorf("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("invalid claims")
	}

	if iss, ok := mapClaims["iss"].(string); !ok || iss != v.issuer {
		return Claims{}, fmt.Errorf("invalid issuer")
	}
	if aud, ok := mapClaims["aud"].(string); !ok || aud != v.audience {
		return Claims{}, fmt.Errorf("invalid audience")
	}

	claims := Claims{}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	tenantID, ok := mapClaims["tenant_id"].(string)
	if !ok || tenantID == "" {
		return Claims{}, fmt.Errorf("missing or invalid tenant_id claim")
	}
	claims.TenantID = tenantID

	if raw, ok := mapClaims["scopes"].([]interface{}); ok {
		for _, s := range raw {
			if scope, ok := s.(string); ok {
				claims.Scopes = append(claims.Scopes, scope)
			}
		}
	}
	return claims, nil
}

// Middleware validates bearer tokens and attaches claims to the request
// context. Health checks are never gated.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if v.disabled {
			ctx := context.WithValue(r.Context(), claimsKey, Claims{
				Subject:  "local",
				TenantID: "local",
				Scopes:   []string{ScopeRunsRead, ScopeRunsRetry, ScopeLogsRead, ScopeDealsWrite},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := v.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope wraps a handler and rejects requests whose claims lack
// the scope. Must run inside Middleware.
func RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing credentials", http.StatusUnauthorized)
			return
		}
		if !claims.HasScope(scope) {
			http.Error(w, fmt.Sprintf("Missing required scope %s", scope), http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// ClaimsFromContext extracts the validated claims from ctx.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}
