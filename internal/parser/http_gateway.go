package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	maxErrorBodyBytes     = 1024
)

var errMissingGatewayURL = errors.New("parser: gateway url is required")

// HTTPGatewayConfig configures the network parser client.
type HTTPGatewayConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPGateway posts raw save bytes to the parsing service.
type HTTPGateway struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPGateway validates the configuration and returns a gateway client.
func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errMissingGatewayURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGateway{url: endpoint, timeout: timeout, client: client}, nil
}

// Parse sends the bytes and decodes either metadata or a typed rejection.
func (g *HTTPGateway) Parse(ctx context.Context, request Request) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(request.Data))
	if err != nil {
		return Metadata{}, fmt.Errorf("parser: build request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/octet-stream")
	httpRequest.Header.Set("Accept", "application/json")
	if encoding := strings.TrimSpace(request.ContentEncoding); encoding != "" && encoding != "identity" {
		httpRequest.Header.Set("Content-Encoding", encoding)
	}

	response, err := g.client.Do(httpRequest)
	if err != nil {
		return Metadata{}, fmt.Errorf("parser: request failed: %w", err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		var metadata Metadata
		if err := json.NewDecoder(response.Body).Decode(&metadata); err != nil {
			return Metadata{}, fmt.Errorf("parser: decode metadata: %w", err)
		}
		return metadata, nil
	case http.StatusUnprocessableEntity:
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		var rejection RejectionError
		if err := json.Unmarshal(body, &rejection); err != nil || strings.TrimSpace(rejection.Kind) == "" {
			return Metadata{}, fmt.Errorf("parser: unexpected rejection payload: %s", strings.TrimSpace(string(body)))
		}
		return Metadata{}, &rejection
	default:
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return Metadata{}, fmt.Errorf("parser: status=%d body=%s", response.StatusCode, strings.TrimSpace(string(body)))
	}
}
