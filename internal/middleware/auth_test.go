package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vemikrs/mirelplatform-sub001/internal/domain"
	"github.com/vemikrs/mirelplatform-sub001/internal/token"

	"github.com/golang-jwt/jwt/v5"
)

// mockVerifier はテスト用のモック検証器。
type mockVerifier struct {
	claims    *token.Claims
	verifyErr error
}

func (m *mockVerifier) Verify(tokenString string) (*token.Claims, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	return m.claims, nil
}

func protected(t *testing.T, verifier TokenVerifier) (http.Handler, *Caller) {
	t.Helper()
	var captured Caller
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			t.Error("caller missing from context behind RequireAuth")
			return
		}
		captured = *caller
		w.WriteHeader(http.StatusOK)
	})
	return RequireAuth(verifier)(next), &captured
}

func TestRequireAuth_ValidToken(t *testing.T) {
	claims := &token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Name:             "Dev User",
		Email:            "dev@example.com",
		Roles:            []string{"developer"},
	}
	h, captured := protected(t, &mockVerifier{claims: claims})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if captured.UserID != "user-1" || captured.Name != "Dev User" || len(captured.Roles) != 1 {
		t.Errorf("caller not propagated: %+v", captured)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	h, _ := protected(t, &mockVerifier{})

	for _, header := range []string{"", "some-token", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: want 401, got %d", header, rec.Code)
		}
	}
}

func TestRequireAuth_RejectedToken(t *testing.T) {
	for _, verifyErr := range []error{domain.ErrTokenExpired, domain.ErrUnknownKeyID, domain.ErrInvalidSignature, domain.ErrMalformedToken} {
		h, _ := protected(t, &mockVerifier{verifyErr: verifyErr})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%v: want 401, got %d", verifyErr, rec.Code)
		}
	}
}

func TestCallerFrom_AbsentContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := CallerFrom(req.Context()); ok {
		t.Error("caller must be absent outside RequireAuth")
	}
}
