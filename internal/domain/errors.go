package domain

import "errors"

var (
	// ErrInvalidCredentials signals a missing, malformed, expired, or rejected credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidQuery signals a malformed caller query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNoRelevantDocuments signals that retrieval produced zero passages.
	ErrNoRelevantDocuments = errors.New("no relevant documents found")
	// ErrGenerationFailed signals an unusable generation result.
	ErrGenerationFailed = errors.New("text generation failed")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)
