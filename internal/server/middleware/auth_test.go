package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blacknout/nomada-backend-sub000/internal/identity"
)

const testSecret = "test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func signToken(t *testing.T, claims AppClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func validClaims(sub string) AppClaims {
	return AppClaims{
		Name:  "Avery",
		Admin: false,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

// authedRequest runs the metadata+auth chain and reports the status code and
// the identity the inner handler observed.
func authedRequest(t *testing.T, mutate func(r *http.Request)) (int, identity.Identity, bool) {
	t.Helper()
	var seen identity.Identity
	var reached bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqMeta, _ := ReqMetadataFrom(r.Context())
		seen = reqMeta.User
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	handler := Chain(inner,
		RequestMetadataMiddleware(),
		NewAuthMiddleware(newTestLogger(), testSecret),
	)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	mutate(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, seen, reached
}

func TestAuthRejectsMissingCredential(t *testing.T) {
	code, _, reached := authedRequest(t, func(r *http.Request) {})
	if code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", code)
	}
	if reached {
		t.Error("Handler must not run without a credential")
	}
}

func TestAuthAcceptsBearerHeader(t *testing.T) {
	token := signToken(t, validClaims("u1"), testSecret)
	code, seen, reached := authedRequest(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if code != http.StatusOK || !reached {
		t.Fatalf("Expected request to pass, got %d", code)
	}
	if seen.ID != "u1" || seen.DisplayName != "Avery" {
		t.Errorf("Unexpected identity: %+v", seen)
	}
}

func TestAuthAcceptsQueryParameterToken(t *testing.T) {
	token := signToken(t, validClaims("u1"), testSecret)
	code, seen, _ := authedRequest(t, func(r *http.Request) {
		q := r.URL.Query()
		q.Set("token", token)
		r.URL.RawQuery = q.Encode()
	})
	if code != http.StatusOK {
		t.Fatalf("Expected 200 for query token, got %d", code)
	}
	if seen.ID != "u1" {
		t.Errorf("Unexpected identity: %+v", seen)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	claims := validClaims("u1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := signToken(t, claims, testSecret)

	code, _, reached := authedRequest(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if code != http.StatusUnauthorized || reached {
		t.Errorf("Expected 401 for expired token, got %d", code)
	}
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	token := signToken(t, validClaims("u1"), "some-other-secret")
	code, _, reached := authedRequest(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if code != http.StatusUnauthorized || reached {
		t.Errorf("Expected 401 for bad signature, got %d", code)
	}
}

func TestAuthRejectsMissingSubject(t *testing.T) {
	token := signToken(t, validClaims(""), testSecret)
	code, _, reached := authedRequest(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if code != http.StatusUnauthorized || reached {
		t.Errorf("Expected 401 for missing sub, got %d", code)
	}
}

func TestAuthPropagatesAdminFlag(t *testing.T) {
	claims := validClaims("admin-1")
	claims.Admin = true
	token := signToken(t, claims, testSecret)

	_, seen, _ := authedRequest(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if !seen.IsAdmin {
		t.Error("Admin claim was not propagated")
	}
}
