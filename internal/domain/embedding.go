package domain

import "context"

// EmbeddingResult carries one embedding vector plus provider token usage.
// Cached results report zero tokens.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker is implemented by providers that can verify their own
// availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
