package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "app_session"
	testSessionIssuer        = "chronicle"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

var testClockNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return testClockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signSession(t *testing.T, claims SessionClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(issuer string, expiresIn time.Duration) SessionClaims {
	return SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		UserRoles: []string{"player"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(testClockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(testClockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(testClockNow.Add(expiresIn)),
		},
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	validator := newTestValidator(t)

	claims, err := validator.ValidateToken(signSession(t, validClaims(testSessionIssuer, time.Hour), testSessionSigningSecret))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if claims.IsAdmin() {
		t.Fatalf("player session must not be admin")
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	validator := newTestValidator(t)
	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "  ", want: ErrMissingSessionToken},
		{name: "expired", token: signSession(t, validClaims(testSessionIssuer, -time.Second), testSessionSigningSecret), want: ErrExpiredSessionToken},
		{name: "wrong issuer", token: signSession(t, validClaims("someone-else", time.Hour), testSessionSigningSecret), want: ErrInvalidSessionToken},
		{name: "wrong secret", token: signSession(t, validClaims(testSessionIssuer, time.Hour), "other"), want: ErrInvalidSessionToken},
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidSessionToken},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(testCase.token); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator := newTestValidator(t)

	request := httptest.NewRequest(http.MethodGet, "/api/saves/abc", http.NoBody)
	request.AddCookie(&http.Cookie{
		Name:  testSessionCookieName,
		Value: signSession(t, validClaims(testSessionIssuer, time.Hour), testSessionSigningSecret),
	})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionValidatorValidateRequestPrefersBearer(t *testing.T) {
	validator := newTestValidator(t)
	adminClaims := validClaims(testSessionIssuer, time.Hour)
	adminClaims.UserRoles = []string{"Admin"}

	request := httptest.NewRequest(http.MethodPost, "/api/admin/rebalance", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signSession(t, adminClaims, testSessionSigningSecret))
	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: "stale"})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if !claims.IsAdmin() {
		t.Fatalf("expected admin role to be recognised")
	}

	request.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected non-bearer header to be rejected, got %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/api/saves", http.NoBody)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{Issuer: "x", CookieName: "c"}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing signing key, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}); !errors.Is(err, ErrMissingSessionIssuer) {
		t.Fatalf("expected missing issuer, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "x"}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected missing cookie name, got %v", err)
	}
}
