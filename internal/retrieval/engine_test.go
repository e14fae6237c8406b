package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/vectorstore"
)

type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = make([]float32, f.dim)
	}
	return vecs, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeIndex struct {
	hits     []vectorstore.Hit
	searches int
	upserted map[string]string
	count    uint64
	err      error
}

func (f *fakeIndex) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]vectorstore.Hit, error) {
	f.searches++
	if f.err != nil {
		return nil, f.err
	}
	if uint64(len(f.hits)) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, collection, id string, vector []float32, text string, metadata map[string]string) error {
	if f.err != nil {
		return f.err
	}
	if f.upserted == nil {
		f.upserted = make(map[string]string)
	}
	f.upserted[id] = text
	return nil
}

func (f *fakeIndex) Count(ctx context.Context, collection string) (uint64, error) {
	return f.count, nil
}

func newTestEngine(embedder *fakeEmbedder, index *fakeIndex) *Engine {
	return NewEngine(embedder, index, "fragments", embedder.dim, zap.NewNop())
}

func TestSearchOrdersByDistance(t *testing.T) {
	index := &fakeIndex{hits: []vectorstore.Hit{
		{ID: "a", Text: "first", Distance: 0.1},
		{ID: "b", Text: "second", Distance: 0.4},
	}}
	e := newTestEngine(&fakeEmbedder{dim: 4}, index)

	results, err := e.Search(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].FragmentID != "a" || results[0].Distance != 0.1 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	index := &fakeIndex{}
	e := NewEngine(&fakeEmbedder{dim: 8}, index, "fragments", 4, zap.NewNop())

	_, err := e.Search(context.Background(), "query", 3)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if index.searches != 0 {
		t.Error("index should not be searched on dimension mismatch")
	}
}

func TestGetContextFormatsDocuments(t *testing.T) {
	index := &fakeIndex{hits: []vectorstore.Hit{
		{ID: "a", Text: "alpha text", Distance: 0.1},
		{ID: "b", Text: "beta text", Distance: 0.2},
	}}
	e := newTestEngine(&fakeEmbedder{dim: 4}, index)

	got, err := e.GetContext(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	want := "[Document 1]\nalpha text\n\n[Document 2]\nbeta text"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGetContextEmpty(t *testing.T) {
	e := newTestEngine(&fakeEmbedder{dim: 4}, &fakeIndex{})
	got, err := e.GetContext(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}

func TestMergeDeduplicates(t *testing.T) {
	a := []Result{
		{FragmentID: "x", Distance: 0.5},
		{FragmentID: "y", Distance: 0.2},
	}
	b := []Result{
		{FragmentID: "x", Distance: 0.3},
		{FragmentID: "z", Distance: 0.9},
	}

	merged := Merge(a, b)
	if len(merged) != 3 {
		t.Fatalf("got %d results, want 3", len(merged))
	}
	order := make([]string, len(merged))
	for i, r := range merged {
		order[i] = r.FragmentID
	}
	if strings.Join(order, ",") != "y,x,z" {
		t.Errorf("unexpected order %v", order)
	}
	if merged[1].Distance != 0.3 {
		t.Errorf("duplicate should keep smallest distance, got %v", merged[1].Distance)
	}
}

func TestAddDocument(t *testing.T) {
	index := &fakeIndex{}
	e := newTestEngine(&fakeEmbedder{dim: 4}, index)

	id, err := e.AddDocument(context.Background(), "some document", map[string]string{"source": "test"})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	if index.upserted[id] != "some document" {
		t.Errorf("document not stored under returned id")
	}
}
