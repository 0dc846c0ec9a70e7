// Package passage stores document passages with their embeddings and serves
// similarity retrieval over them.
package passage

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriade/ragserve/internal/db"
)

const (
	textField   = "text"
	vectorField = "vector"
)

// Passage is one stored document chunk with its embedding.
type Passage struct {
	ID     string
	Text   string
	Vector []float32
}

// store is the consumer interface for the passage repository (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig holds index build parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo persists passages as hashes under keyPrefix and retrieves them via
// KNN search on indexName.
type Repo struct {
	store     store
	keyPrefix string
	indexName string
	hnsw      HNSWConfig
}

// New creates a passage repository.
func New(s store, keyPrefix, indexName string) *Repo {
	return &Repo{
		store:     s,
		keyPrefix: keyPrefix + "doc:",
		indexName: indexName,
	}
}

// WithHNSW overrides index build parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	r.hnsw = cfg
	return r
}

// EnsureIndex creates the vector index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context, dim int) error {
	exists, err := r.store.IndexExists(ctx, r.indexName)
	if err != nil {
		return fmt.Errorf("probe index: %w", err)
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:     r.indexName,
		Prefixes: []string{r.keyPrefix},
		Fields: []db.IndexField{
			{Name: textField, Type: db.IndexFieldText},
			{
				Name:              vectorField,
				Type:              db.IndexFieldVector,
				VectorAlgo:        db.VectorHNSW,
				VectorDim:         dim,
				VectorDistance:    db.DistanceCosine,
				VectorM:           r.hnsw.M,
				VectorEFConstruct: r.hnsw.EFConstruct,
			},
		},
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Upsert stores passages; existing ids are overwritten.
func (r *Repo) Upsert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(passages))
	for i, p := range passages {
		if p.ID == "" {
			return fmt.Errorf("passage %d has no id", i)
		}
		items[i] = db.HashSetItem{
			Key: r.keyPrefix + p.ID,
			Fields: map[string]string{
				textField:   p.Text,
				vectorField: string(db.VectorToBytes(p.Vector)),
			},
		}
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert passages: %w", err)
	}
	return nil
}

// Search returns up to k passage texts ranked by similarity to the vector.
// An empty result is a valid outcome, not an error.
func (r *Repo) Search(ctx context.Context, vector []float32, k int) ([]string, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		Vector:       vector,
		K:            k,
		ReturnFields: []string{textField, "__vector_score"},
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	texts := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		if t, ok := e.Fields[textField]; ok {
			texts = append(texts, t)
		}
	}
	return texts, nil
}
