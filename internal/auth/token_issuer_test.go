package auth

import (
	"testing"
	"time"
)

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      10 * time.Minute,
		Clock: func() time.Time {
			return testClockNow
		},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresIn, err := issuer.Issue(SessionRequest{
		UserID:      "moderator",
		DisplayName: "Mod",
		Roles:       []string{RoleAdmin},
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != 600 {
		t.Fatalf("expected 600 second lifetime, got %d", expiresIn)
	}

	claims, err := newTestValidator(t).ValidateToken(token)
	if err != nil {
		t.Fatalf("validator rejected issued token: %v", err)
	}
	if claims.UserID != "moderator" || claims.Subject != "moderator" || claims.UserDisplayName != "Mod" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.IsAdmin() {
		t.Fatalf("expected admin role in issued token")
	}
}

func TestTokenIssuerValidation(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: "x"}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s")}); err == nil {
		t.Fatalf("expected missing issuer error")
	}
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "x"})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.Issue(SessionRequest{UserID: " "}); err == nil {
		t.Fatalf("expected missing user id error")
	}
}
