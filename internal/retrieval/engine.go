package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/embedding"
	"github.com/calder-labs/hoplite/internal/vectorstore"
)

// ErrDimensionMismatch indicates the embedder produced vectors of a
// different size than the collection was created with. The deployment is
// misconfigured; callers should treat this as fatal rather than retry.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Result is a retrieved fragment with its distance from the query.
// Smaller distance means more relevant.
type Result struct {
	FragmentID string            `json:"fragment_id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Distance   float64           `json:"distance"`
}

// VectorIndex is the subset of the vector store the engine needs.
type VectorIndex interface {
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]vectorstore.Hit, error)
	Upsert(ctx context.Context, collection, id string, vector []float32, text string, metadata map[string]string) error
	Count(ctx context.Context, collection string) (uint64, error)
}

// Engine embeds queries and searches the vector index.
type Engine struct {
	embedder   embedding.Provider
	index      VectorIndex
	collection string
	dimension  int
	logger     *zap.Logger
}

// NewEngine creates a retrieval engine over the given embedder and index.
// dimension is the collection's vector size; every embedded vector is
// checked against it.
func NewEngine(embedder embedding.Provider, index VectorIndex, collection string, dimension int, logger *zap.Logger) *Engine {
	return &Engine{
		embedder:   embedder,
		index:      index,
		collection: collection,
		dimension:  dimension,
		logger:     logger.With(zap.String("component", "retrieval")),
	}
}

// Search embeds the query and returns the top-K nearest fragments in
// ascending distance order.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	vec, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.index.Search(ctx, e.collection, vec, uint64(topK))
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			FragmentID: h.ID,
			Text:       h.Text,
			Metadata:   h.Metadata,
			Distance:   h.Distance,
		}
	}
	return results, nil
}

// GetContext retrieves the top-K fragments and formats them as numbered
// document blocks for prompt assembly. Returns "" when nothing matches.
func (e *Engine) GetContext(ctx context.Context, query string, topK int) (string, error) {
	results, err := e.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return FormatContext(results), nil
}

// FormatContext renders retrieved fragments as numbered document blocks.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Document %d]\n%s", i+1, r.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// Merge combines result sets, deduplicating by fragment id. When the same
// fragment appears more than once the smallest distance wins. The merged
// set is returned in ascending distance order.
func Merge(sets ...[]Result) []Result {
	best := make(map[string]Result)
	for _, set := range sets {
		for _, r := range set {
			if prev, ok := best[r.FragmentID]; !ok || r.Distance < prev.Distance {
				best[r.FragmentID] = r
			}
		}
	}
	merged := make([]Result, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		return merged[i].FragmentID < merged[j].FragmentID
	})
	return merged
}

// AddDocument embeds a document text and stores it as a new fragment.
// Returns the generated fragment id.
func (e *Engine) AddDocument(ctx context.Context, text string, metadata map[string]string) (string, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := e.index.Upsert(ctx, e.collection, id, vec, text, metadata); err != nil {
		return "", fmt.Errorf("retrieval: %w", err)
	}
	e.logger.Info("stored document", zap.String("id", id), zap.Int("chars", len(text)))
	return id, nil
}

// Count returns the number of fragments in the collection.
func (e *Engine) Count(ctx context.Context) (uint64, error) {
	return e.index.Count(ctx, e.collection)
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := embedding.EmbedOne(ctx, e.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed: %w", err)
	}
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, len(vec), e.dimension)
	}
	return vec, nil
}
