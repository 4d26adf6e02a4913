package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "revo-auth"
	testAudience = "revoflow-api"
)

func newTestValidator(t *testing.T) (*Validator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	v, err := NewValidator(string(pemBytes), testIssuer, testAudience)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v, key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       testIssuer,
		"aud":       testAudience,
		"sub":       "user-1",
		"tenant_id": "tenant-1",
		"scopes":    []string{ScopeRunsRead, ScopeRunsRetry},
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
}

func TestValidateToken(t *testing.T) {
	v, key := newTestValidator(t)

	claims, err := v.ValidateToken(signToken(t, key, validClaims()))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TenantID != "tenant-1" || claims.Subject != "user-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if !claims.HasScope(ScopeRunsRead) || claims.HasScope(ScopeDealsWrite) {
		t.Fatalf("scope set wrong: %v", claims.Scopes)
	}
}

func TestValidateTokenRejections(t *testing.T) {
	v, key := newTestValidator(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{
			name: "wrong issuer",
			token: signToken(t, key, jwt.MapClaims{
				"iss": "someone-else", "aud": testAudience, "tenant_id": "t", "exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "wrong audience",
			token: signToken(t, key, jwt.MapClaims{
				"iss": testIssuer, "aud": "other-api", "tenant_id": "t", "exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "missing tenant",
			token: signToken(t, key, jwt.MapClaims{
				"iss": testIssuer, "aud": testAudience, "exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "expired",
			token: signToken(t, key, jwt.MapClaims{
				"iss": testIssuer, "aud": testAudience, "tenant_id": "t", "exp": time.Now().Add(-time.Hour).Unix(),
			}),
		},
		{
			name: "wrong key",
			token: signToken(t, otherKey, validClaims()),
		},
		{
			name:  "garbage",
			token: "not.a.token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.ValidateToken(tt.token); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	v, key := newTestValidator(t)

	var gotClaims Claims
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims()))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if gotClaims.TenantID != "tenant-1" {
			t.Fatalf("claims not attached: %+v", gotClaims)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("healthz bypasses auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

func TestDisabledValidatorAdmitsAll(t *testing.T) {
	v := NewDisabledValidator()
	handler := v.Middleware(RequireScope(ScopeDealsWrite, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/deals/d1/transition", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireScope(t *testing.T) {
	v, key := newTestValidator(t)
	handler := v.Middleware(RequireScope(ScopeDealsWrite, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/deals/d1/transition", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for missing scope", rec.Code)
	}

	claims := validClaims()
	claims["scopes"] = []string{ScopeDealsWrite}
	req = httptest.NewRequest(http.MethodPost, "/v1/deals/d1/transition", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with scope", rec.Code)
	}
}
