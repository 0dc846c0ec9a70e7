package passage

import (
	"context"
	"testing"

	"github.com/oriade/ragserve/internal/db"
)

// --- Mock store ---

type mockStore struct {
	hsetItems   []db.HashSetItem
	indexExists bool
	createdIdx  *db.IndexDefinition
	knnQuery    *db.KNNQuery
	knnResult   *db.SearchResult
	knnErr      error
}

func (m *mockStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	m.hsetItems = items
	return nil
}

func (m *mockStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	m.createdIdx = def
	return nil
}

func (m *mockStore) IndexExists(_ context.Context, _ string) (bool, error) {
	return m.indexExists, nil
}

func (m *mockStore) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	m.knnQuery = q
	if m.knnErr != nil {
		return nil, m.knnErr
	}
	if m.knnResult != nil {
		return m.knnResult, nil
	}
	return &db.SearchResult{}, nil
}

// --- Tests ---

func TestEnsureIndex_CreatesWhenAbsent(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, "ragserve:", "ragserve_passages").WithHNSW(HNSWConfig{M: 32, EFConstruct: 400})

	if err := repo.EnsureIndex(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.createdIdx == nil {
		t.Fatal("expected index creation")
	}
	if ms.createdIdx.Name != "ragserve_passages" {
		t.Errorf("index name: got %q", ms.createdIdx.Name)
	}
	if len(ms.createdIdx.Prefixes) != 1 || ms.createdIdx.Prefixes[0] != "ragserve:doc:" {
		t.Errorf("prefixes: got %v", ms.createdIdx.Prefixes)
	}
	var vec *db.IndexField
	for i := range ms.createdIdx.Fields {
		if ms.createdIdx.Fields[i].Type == db.IndexFieldVector {
			vec = &ms.createdIdx.Fields[i]
		}
	}
	if vec == nil {
		t.Fatal("expected a vector field")
	}
	if vec.VectorDim != 384 || vec.VectorAlgo != db.VectorHNSW {
		t.Errorf("vector field: %+v", vec)
	}
}

func TestEnsureIndex_SkipsWhenPresent(t *testing.T) {
	ms := &mockStore{indexExists: true}
	repo := New(ms, "ragserve:", "ragserve_passages")

	if err := repo.EnsureIndex(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.createdIdx != nil {
		t.Fatal("index must not be recreated")
	}
}

func TestUpsert_WritesHashes(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, "ragserve:", "ragserve_passages")

	passages := []Passage{
		{ID: "doc0", Text: "first", Vector: []float32{0.1, 0.2}},
		{ID: "doc1", Text: "second", Vector: []float32{0.3, 0.4}},
	}
	if err := repo.Upsert(context.Background(), passages); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ms.hsetItems) != 2 {
		t.Fatalf("expected 2 items, got %d", len(ms.hsetItems))
	}
	if ms.hsetItems[0].Key != "ragserve:doc:doc0" {
		t.Errorf("key: got %q", ms.hsetItems[0].Key)
	}
	if ms.hsetItems[1].Fields["text"] != "second" {
		t.Errorf("text field: got %q", ms.hsetItems[1].Fields["text"])
	}
	vec, err := db.VectorFromBytes([]byte(ms.hsetItems[0].Fields["vector"]))
	if err != nil {
		t.Fatalf("decode stored vector: %v", err)
	}
	if vec[0] != 0.1 || vec[1] != 0.2 {
		t.Errorf("stored vector: got %v", vec)
	}
}

func TestUpsert_MissingID(t *testing.T) {
	repo := New(&mockStore{}, "ragserve:", "ragserve_passages")

	err := repo.Upsert(context.Background(), []Passage{{Text: "no id"}})
	if err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestSearch_ReturnsRankedTexts(t *testing.T) {
	ms := &mockStore{knnResult: &db.SearchResult{
		Total: 2,
		Entries: []db.SearchEntry{
			{Key: "ragserve:doc:doc1", Score: 0.95, Fields: map[string]string{"text": "closest"}},
			{Key: "ragserve:doc:doc0", Score: 0.70, Fields: map[string]string{"text": "runner-up"}},
		},
	}}
	repo := New(ms, "ragserve:", "ragserve_passages")

	texts, err := repo.Search(context.Background(), []float32{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(texts) != 2 || texts[0] != "closest" || texts[1] != "runner-up" {
		t.Fatalf("unexpected texts: %v", texts)
	}
	if ms.knnQuery.K != 2 {
		t.Errorf("k: got %d, want 2", ms.knnQuery.K)
	}
	if ms.knnQuery.IndexName != "ragserve_passages" {
		t.Errorf("index: got %q", ms.knnQuery.IndexName)
	}
}

func TestSearch_EmptyResultIsNotAnError(t *testing.T) {
	repo := New(&mockStore{}, "ragserve:", "ragserve_passages")

	texts, err := repo.Search(context.Background(), []float32{0.1}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(texts) != 0 {
		t.Fatalf("expected no texts, got %v", texts)
	}
}
