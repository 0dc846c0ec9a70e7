package answer

import (
	"context"

	"github.com/oriade/ragserve/internal/auth"
	"github.com/oriade/ragserve/internal/domain"
)

// CredentialVerifier gates the pipeline. Verification failure is terminal.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (auth.Claims, error)
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Retriever returns passage texts ranked by similarity to the vector.
type Retriever interface {
	Search(ctx context.Context, vector []float32, k int) ([]string, error)
}

// Generator produces the answer text from a grounded prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
