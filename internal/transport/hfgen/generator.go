// Package hfgen provides the answer-generation collaborator client. It
// speaks the HuggingFace text2text inference protocol: one JSON POST with
// the prompt and decoding parameters, one JSON array of candidates back.
package hfgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oriade/ragserve/internal/domain"
	"github.com/oriade/ragserve/internal/metrics"
)

// Params is the decoding policy applied to every generation call. It is a
// fixed service policy: determinism and a latency bound take priority over
// caller control.
type Params struct {
	MaxLength         int  `json:"max_length"`
	NumBeams          int  `json:"num_beams"`
	NoRepeatNgramSize int  `json:"no_repeat_ngram_size"`
	EarlyStopping     bool `json:"early_stopping"`
}

// DefaultParams is the decoding configuration used in production.
var DefaultParams = Params{
	MaxLength:         150,
	NumBeams:          5,
	NoRepeatNgramSize: 2,
	EarlyStopping:     true,
}

// Generator calls a text2text generation endpoint.
type Generator struct {
	endpoint   string
	apiKey     string
	params     Params
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds the generation provider settings.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewGenerator creates a generation client with the default decoding params.
func NewGenerator(cfg *Config) *Generator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		params:     DefaultParams,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}
}

type generateRequest struct {
	Inputs     string `json:"inputs"`
	Parameters Params `json:"parameters"`
}

type candidate struct {
	GeneratedText string `json:"generated_text"`
}

// Generate produces text for the given prompt and returns the first
// candidate. An empty or malformed provider response is a generation failure.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Inputs: prompt, Parameters: g.params})
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.GenerationRequestsTotal.WithLabelValues("error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generation API error %d: %s: %w",
			resp.StatusCode, string(snippet), domain.ErrGenerationFailed)
	}

	var candidates []candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("malformed generation response: %w", domain.ErrGenerationFailed)
	}
	if len(candidates) == 0 || strings.TrimSpace(candidates[0].GeneratedText) == "" {
		metrics.GenerationRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("empty generation response: %w", domain.ErrGenerationFailed)
	}

	metrics.GenerationRequestsTotal.WithLabelValues("success").Inc()
	metrics.GenerationRequestDuration.Observe(duration.Seconds())

	return candidates[0].GeneratedText, nil
}

// HealthCheck probes the generation endpoint. Any response below 500 counts
// as reachable; model-loading responses (503 with estimated_time) do not.
func (g *Generator) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generation endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("generation endpoint returned %d", resp.StatusCode)
	}
	return nil
}
