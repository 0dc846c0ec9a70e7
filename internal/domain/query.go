package domain

import (
	"fmt"
	"strings"
)

// DefaultTopK is the number of passages retrieved when the caller does not ask for more.
const DefaultTopK = 2

// Query is a single question posed to the pipeline. Immutable for the
// lifetime of the request.
type Query struct {
	Text string
	TopK int
}

// NewQuery validates caller input. An absent topK (zero) falls back to
// DefaultTopK; a negative one is rejected.
func NewQuery(text string, topK int) (Query, error) {
	if strings.TrimSpace(text) == "" {
		return Query{}, fmt.Errorf("%w: query text is required", ErrInvalidQuery)
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 {
		return Query{}, fmt.Errorf("%w: top_k must be at least 1", ErrInvalidQuery)
	}
	return Query{Text: text, TopK: topK}, nil
}

// Answer is a synthesized response together with the passages that grounded
// it. Passages are kept for logging only and are not returned to the caller.
type Answer struct {
	Text     string
	Passages []string
}
