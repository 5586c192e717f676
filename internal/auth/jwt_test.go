package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type keyPair struct {
	private *rsa.PrivateKey
	pkix    string
	pkcs1   string
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error: %v", err)
	}
	return keyPair{
		private: priv,
		pkix:    string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		pkcs1:   string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)})),
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}
	return s
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "operator-1",
		Issuer:    "taskmanager-auth",
		Audience:  jwt.ClaimStrings{"taskmanager"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

func TestNewJWTValidator(t *testing.T) {
	kp := newKeyPair(t)

	tests := []struct {
		name        string
		publicKey   string
		expectError bool
	}{
		{name: "PKIX public key", publicKey: kp.pkix},
		{name: "PKCS1 public key", publicKey: kp.pkcs1},
		{name: "invalid PEM", publicKey: "not a pem", expectError: true},
		{name: "empty key", publicKey: "", expectError: true},
		{
			name:        "PEM with garbage body",
			publicKey:   "-----BEGIN PUBLIC KEY-----\nYWJj\n-----END PUBLIC KEY-----\n",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewJWTValidator(tt.publicKey, "iss", "aud")
			if tt.expectError {
				if err == nil {
					t.Error("NewJWTValidator() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewJWTValidator() unexpected error: %v", err)
			}
			if v.publicKey == nil || v.issuer != "iss" || v.audience != "aud" {
				t.Errorf("NewJWTValidator() = %+v", v)
			}
		})
	}
}

func TestJWTValidator_ValidateToken(t *testing.T) {
	kp := newKeyPair(t)
	other := newKeyPair(t)

	v, err := NewJWTValidator(kp.pkix, "taskmanager-auth", "taskmanager")
	if err != nil {
		t.Fatalf("NewJWTValidator() error: %v", err)
	}

	tests := []struct {
		name        string
		token       func() string
		wantSubject string
		expectError bool
	}{
		{
			name:        "valid token",
			token:       func() string { return sign(t, kp.private, jwt.SigningMethodRS256, validClaims()) },
			wantSubject: "operator-1",
		},
		{
			name: "expired token",
			token: func() string {
				c := validClaims()
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return sign(t, kp.private, jwt.SigningMethodRS256, c)
			},
			expectError: true,
		},
		{
			name: "missing expiry",
			token: func() string {
				c := validClaims()
				c.ExpiresAt = nil
				return sign(t, kp.private, jwt.SigningMethodRS256, c)
			},
			expectError: true,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := validClaims()
				c.Issuer = "someone-else"
				return sign(t, kp.private, jwt.SigningMethodRS256, c)
			},
			expectError: true,
		},
		{
			name: "wrong audience",
			token: func() string {
				c := validClaims()
				c.Audience = jwt.ClaimStrings{"billing"}
				return sign(t, kp.private, jwt.SigningMethodRS256, c)
			},
			expectError: true,
		},
		{
			name: "missing subject",
			token: func() string {
				c := validClaims()
				c.Subject = ""
				return sign(t, kp.private, jwt.SigningMethodRS256, c)
			},
			expectError: true,
		},
		{
			name:        "signed by another key",
			token:       func() string { return sign(t, other.private, jwt.SigningMethodRS256, validClaims()) },
			expectError: true,
		},
		{
			name:        "RS512 not accepted",
			token:       func() string { return sign(t, kp.private, jwt.SigningMethodRS512, validClaims()) },
			expectError: true,
		},
		{
			name:        "garbage",
			token:       func() string { return "invalid.token.here" },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := v.ValidateToken(tt.token())
			if tt.expectError {
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("ValidateToken() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateToken() unexpected error: %v", err)
			}
			if subject != tt.wantSubject {
				t.Errorf("ValidateToken() subject = %q, want %q", subject, tt.wantSubject)
			}
		})
	}
}

func TestJWTValidator_OptionalIssuerAudience(t *testing.T) {
	kp := newKeyPair(t)
	v, err := NewJWTValidator(kp.pkix, "", "")
	if err != nil {
		t.Fatalf("NewJWTValidator() error: %v", err)
	}

	c := validClaims()
	c.Issuer = "anyone"
	c.Audience = nil
	if _, err := v.ValidateToken(sign(t, kp.private, jwt.SigningMethodRS256, c)); err != nil {
		t.Errorf("ValidateToken() without issuer/audience checks = %v", err)
	}
}

func TestJWTValidator_HTTPMiddleware(t *testing.T) {
	kp := newKeyPair(t)
	v, err := NewJWTValidator(kp.pkix, "taskmanager-auth", "taskmanager")
	if err != nil {
		t.Fatalf("NewJWTValidator() error: %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject, ok := SubjectFromContext(r.Context()); ok {
			w.Header().Set("X-Subject", subject)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := v.HTTPMiddleware(next)

	tests := []struct {
		name           string
		authorization  string
		expectedStatus int
		expectedSub    string
	}{
		{name: "valid bearer", authorization: "Bearer " + sign(t, kp.private, jwt.SigningMethodRS256, validClaims()), expectedStatus: http.StatusOK, expectedSub: "operator-1"},
		{name: "missing header", authorization: "", expectedStatus: http.StatusUnauthorized},
		{name: "wrong scheme", authorization: "Basic dXNlcjpwYXNz", expectedStatus: http.StatusUnauthorized},
		{name: "empty bearer", authorization: "Bearer ", expectedStatus: http.StatusUnauthorized},
		{name: "invalid token", authorization: "Bearer invalid-token", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if got := w.Header().Get("X-Subject"); got != tt.expectedSub {
				t.Errorf("subject = %q, want %q", got, tt.expectedSub)
			}
			if tt.expectedStatus == http.StatusUnauthorized {
				var body map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Errorf("401 body = %q, want {\"error\":...}", w.Body.String())
				}
			}
		})
	}
}

func TestSubjectFromContext(t *testing.T) {
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Error("SubjectFromContext() ok on empty context")
	}
	ctx := context.WithValue(context.Background(), SubjectKey, "operator-1")
	if s, ok := SubjectFromContext(ctx); !ok || s != "operator-1" {
		t.Errorf("SubjectFromContext() = %q, %v", s, ok)
	}
	ctx = context.WithValue(context.Background(), SubjectKey, 42)
	if _, ok := SubjectFromContext(ctx); ok {
		t.Error("SubjectFromContext() ok on non-string value")
	}
}
