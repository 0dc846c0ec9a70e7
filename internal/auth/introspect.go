package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oriade/ragserve/internal/domain"
)

// IntrospectionVerifier validates credentials against a remote identity
// provider's token introspection endpoint (RFC 7662 shape). A transport
// failure and a semantic rejection surface as the same error kind; only the
// log line tells them apart.
type IntrospectionVerifier struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewIntrospectionVerifier creates a remote-introspection verifier.
// The expected audience is the configured client id.
func NewIntrospectionVerifier(endpoint, clientID, clientSecret string, logger *zap.Logger) *IntrospectionVerifier {
	return &IntrospectionVerifier{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (v *IntrospectionVerifier) WithHTTPClient(c *http.Client) *IntrospectionVerifier {
	v.httpClient = c
	return v
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
}

// Verify implements Verifier.
func (v *IntrospectionVerifier) Verify(ctx context.Context, credential string) (Claims, error) {
	if credential == "" {
		return Claims{}, domain.ErrInvalidCredentials
	}

	form := url.Values{"token": {credential}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Claims{}, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(v.clientID, v.clientSecret)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Warn("introspection request failed", zap.Error(err))
		return Claims{}, domain.ErrInvalidCredentials
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		v.logger.Warn("introspection endpoint returned non-success", zap.Int("status", resp.StatusCode))
		return Claims{}, domain.ErrInvalidCredentials
	}

	var ir introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		v.logger.Warn("introspection response malformed", zap.Error(err))
		return Claims{}, domain.ErrInvalidCredentials
	}

	if !ir.Active {
		v.logger.Debug("token inactive", zap.String("subject", ir.Subject))
		return Claims{}, domain.ErrInvalidCredentials
	}
	if ir.Audience != v.clientID {
		v.logger.Warn("token audience mismatch",
			zap.String("audience", ir.Audience),
			zap.String("expected", v.clientID),
		)
		return Claims{}, domain.ErrInvalidCredentials
	}

	return Claims{Subject: ir.Subject, Audience: ir.Audience}, nil
}
