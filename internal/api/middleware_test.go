package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testOperator = uuid.MustParse("7d4ce5a4-31e2-4a62-9c4f-0f5f3f2a1b6c")

func signToken(t *testing.T, secret, subject string, expiry time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": expiry.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authedHandler(secret string) http.Handler {
	return RequireAuth(secret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireAuth_MissingToken(t *testing.T) {
	rec := httptest.NewRecorder()
	authedHandler("secret").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/triggers", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuth_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", testOperator.String(), time.Now().Add(time.Hour)))

	rec := httptest.NewRecorder()
	authedHandler("secret").ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRequireAuth_PropagatesOperator(t *testing.T) {
	var got uuid.UUID
	var found bool
	h := RequireAuth("secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = OperatorID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", testOperator.String(), time.Now().Add(time.Hour)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !found || got != testOperator {
		t.Errorf("operator = %v found = %t, want token subject %v", got, found, testOperator)
	}
}

func TestRequireAuth_NonUUIDSubject(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "ops-team", time.Now().Add(time.Hour)))

	rec := httptest.NewRecorder()
	authedHandler("secret").ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a non-uuid subject", rec.Code)
	}
}

func TestRequireAuth_WrongSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", testOperator.String(), time.Now().Add(time.Hour)))

	rec := httptest.NewRecorder()
	authedHandler("secret").ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", testOperator.String(), time.Now().Add(-time.Hour)))

	rec := httptest.NewRecorder()
	authedHandler("secret").ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuth_HealthStaysOpen(t *testing.T) {
	rec := httptest.NewRecorder()
	authedHandler("secret").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without a token", rec.Code)
	}
}

func TestRequireAuth_EmptySecretDisablesAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	authedHandler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/triggers", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when auth is disabled", rec.Code)
	}
}
