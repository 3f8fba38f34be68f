package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
)

const testAddress = "0x1111111111111111111111111111111111111111"

func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func generateTestToken(t *testing.T, privateKey *rsa.PrivateKey, address string, expired bool) string {
	t.Helper()
	claims := &Claims{
		Address:    address,
		AuthMethod: "test",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	_, publicKey := generateTestKeys(t)
	m := NewAuthMiddleware(publicKey, logging.NewDiscard("test"), []string{"/health"})

	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_RejectsBadHeaders(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)
	otherKey, _ := generateTestKeys(t)
	m := NewAuthMiddleware(publicKey, logging.NewDiscard("test"), nil)
	handler := m.Handler(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer invalid.token.here"},
		{"expired", "Bearer " + generateTestToken(t, privateKey, testAddress, true)},
		{"wrong signing key", "Bearer " + generateTestToken(t, otherKey, testAddress, false)},
		{"bad address claim", "Bearer " + generateTestToken(t, privateKey, "user-123", false)},
		{"zero address claim", "Bearer " + generateTestToken(t, privateKey, chain.ZeroAddress.Hex(), false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/drops", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)
	m := NewAuthMiddleware(publicKey, logging.NewDiscard("test"), nil)

	var captured chain.Address
	var logCaller string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = GetCaller(r.Context())
		logCaller = logging.GetCaller(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/drops", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, privateKey, testAddress, false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if captured != chain.MustParseAddress(testAddress) {
		t.Errorf("caller = %s, want %s", captured, testAddress)
	}
	if logCaller != testAddress {
		t.Errorf("log caller = %q", logCaller)
	}
}

func TestAuthMiddleware_PreservesTraceID(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)
	m := NewAuthMiddleware(publicKey, logging.NewDiscard("test"), nil)

	var traceID string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/drops", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-1"))
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, privateKey, testAddress, false))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if traceID != "trace-1" {
		t.Errorf("trace ID = %q, want trace-1", traceID)
	}
}

func TestRequireCaller(t *testing.T) {
	handler := RequireCaller(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"AUTH_REQUIRED"`) {
		t.Fatalf("anonymous body = %s, want AUTH_REQUIRED code", rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithCaller(req.Context(), chain.MustParseAddress(testAddress)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}
}

func TestLoadPublicKey(t *testing.T) {
	_, publicKey := generateTestKeys(t)
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "jwt.pub")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey() error = %v", err)
	}
	if loaded.N.Cmp(publicKey.N) != 0 {
		t.Fatal("loaded key differs")
	}
	if _, err := LoadPublicKey(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("missing file should fail")
	}
}
