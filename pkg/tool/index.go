package tool

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
)

// Embedder turns text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type indexEntry struct {
	name   string
	vector []float32
}

// Index is an in-memory embedding index over tool descriptions. Entries
// keep insertion order, which breaks similarity ties.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	entries []indexEntry
}

// NewIndex creates an empty tool index
func NewIndex(embedder Embedder) *Index {
	return &Index{embedder: embedder}
}

// Add embeds a tool's name and description and stores the vector.
// Re-adding a tool replaces its stored vector in place.
func (x *Index) Add(ctx context.Context, t Tool) error {
	desc := t.Descriptor()
	text := desc.Name + ": " + desc.Description

	vector, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return goerr.Wrap(err, "failed to embed tool description", goerr.V("tool", desc.Name))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.entries {
		if x.entries[i].name == desc.Name {
			x.entries[i].vector = vector
			return nil
		}
	}
	x.entries = append(x.entries, indexEntry{name: desc.Name, vector: vector})

	return nil
}

// Search returns the names of the k tools most similar to the query.
// An empty index yields an empty result without calling the embedder.
// Embedder failure maps to ErrRetrievalUnavailable so callers can degrade
// to the core tool set.
func (x *Index) Search(ctx context.Context, query string, k int) ([]string, error) {
	x.mu.RLock()
	entries := x.entries
	x.mu.RUnlock()

	if len(entries) == 0 {
		return nil, nil
	}

	queryVec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(model.ErrRetrievalUnavailable, "failed to embed query",
			goerr.V("cause", err.Error()))
	}

	type scored struct {
		name  string
		score float64
	}
	results := make([]scored, 0, len(entries))
	for _, e := range entries {
		results = append(results, scored{
			name:  e.name,
			score: cosineSimilarity(queryVec, e.vector),
		})
	}

	// Stable sort keeps insertion order on equal scores
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if k > len(results) {
		k = len(results)
	}

	names := make([]string, 0, k)
	for _, r := range results[:k] {
		names = append(names, r.name)
	}
	return names, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
