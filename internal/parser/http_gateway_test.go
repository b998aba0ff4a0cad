package parser

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPGatewayDecodesMetadata(t *testing.T) {
	var receivedBody string
	var receivedEncoding string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		receivedEncoding = r.Header.Get("Content-Encoding")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"date":"1821.1.1","rawDays":30527,"patch":{"major":1,"minor":29,"patch":4,"revision":0},"tag":"FRA","achievementIds":[18,42],"playthroughId":"pt-1","contentHash":"abc","difficulty":"very_hard"}`))
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(HTTPGatewayConfig{URL: server.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}
	metadata, err := gateway.Parse(context.Background(), Request{Data: []byte("EU4bin"), ContentEncoding: "gzip"})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if receivedBody != "EU4bin" {
		t.Fatalf("unexpected body forwarded: %q", receivedBody)
	}
	if receivedEncoding != "gzip" {
		t.Fatalf("expected content encoding header, got %q", receivedEncoding)
	}
	if metadata.RawDays != 30527 || metadata.Patch.Minor != 29 || metadata.PlaythroughID != "pt-1" {
		t.Fatalf("unexpected metadata: %+v", metadata)
	}
	if len(metadata.AchievementIDs) != 2 || metadata.AchievementIDs[1] != 42 {
		t.Fatalf("unexpected achievements: %v", metadata.AchievementIDs)
	}
	if metadata.Patch.Shorthand() != "1.29" {
		t.Fatalf("unexpected shorthand %q", metadata.Patch.Shorthand())
	}
}

func TestHTTPGatewayReturnsTypedRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"kind":"InvalidPatch","patchShorthand":"1.18"}`))
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(HTTPGatewayConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}
	_, err = gateway.Parse(context.Background(), Request{Data: []byte("old")})
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if rejection.Kind != RejectionKindInvalidPatch || rejection.PatchShorthand != "1.18" {
		t.Fatalf("unexpected rejection: %+v", rejection)
	}
	if rejection.Error() != "parser: unsupported patch 1.18" {
		t.Fatalf("unexpected message %q", rejection.Error())
	}
}

func TestHTTPGatewayTreatsOtherFailuresAsOpaque(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream crashed"))
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(HTTPGatewayConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}
	_, err = gateway.Parse(context.Background(), Request{Data: []byte("x")})
	if err == nil {
		t.Fatalf("expected error")
	}
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		t.Fatalf("did not expect a typed rejection: %v", err)
	}
}

func TestNewHTTPGatewayRequiresURL(t *testing.T) {
	if _, err := NewHTTPGateway(HTTPGatewayConfig{}); !errors.Is(err, errMissingGatewayURL) {
		t.Fatalf("expected missing url error, got %v", err)
	}
}
