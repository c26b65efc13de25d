package tool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
)

// fakeEmbedder maps known texts to fixed vectors
type fakeEmbedder struct {
	vectors map[string][]float32
	failing bool
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failing {
		return nil, goerr.New("embedding backend down")
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func TestIndexSearch(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"weather: get forecast":      {1, 0, 0},
		"calendar: manage schedule":  {0, 1, 0},
		"translate: translate text":  {0, 0, 1},
		"what's the weather like?":   {0.9, 0.1, 0},
	}}

	index := tool.NewIndex(embedder)
	for _, ft := range []*fakeTool{
		{desc: tool.Descriptor{Name: "weather", Description: "get forecast"}},
		{desc: tool.Descriptor{Name: "calendar", Description: "manage schedule"}},
		{desc: tool.Descriptor{Name: "translate", Description: "translate text"}},
	} {
		gt.NoError(t, index.Add(ctx, ft))
	}

	names, err := index.Search(ctx, "what's the weather like?", 2)
	gt.NoError(t, err)
	gt.A(t, names).Length(2)
	gt.Equal(t, names[0], "weather")
}

func TestIndexSearchEmpty(t *testing.T) {
	// Must not call the embedder at all when empty
	index := tool.NewIndex(&fakeEmbedder{failing: true})

	names, err := index.Search(context.Background(), "anything", 5)
	gt.NoError(t, err)
	gt.A(t, names).Length(0)
}

func TestIndexSearchKLargerThanIndex(t *testing.T) {
	ctx := context.Background()
	index := tool.NewIndex(&fakeEmbedder{vectors: map[string][]float32{}})
	gt.NoError(t, index.Add(ctx, &fakeTool{desc: tool.Descriptor{Name: "only", Description: "one"}}))

	names, err := index.Search(ctx, "query", 10)
	gt.NoError(t, err)
	gt.A(t, names).Length(1)
}

func TestIndexTieBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	// All tools embed to the same vector: scores tie, insertion order wins
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}

	index := tool.NewIndex(embedder)
	for _, name := range []string{"first", "second", "third"} {
		gt.NoError(t, index.Add(ctx, &fakeTool{desc: tool.Descriptor{Name: name, Description: "same"}}))
	}

	names, err := index.Search(ctx, "query", 3)
	gt.NoError(t, err)
	gt.Equal(t, names, []string{"first", "second", "third"})
}

func TestIndexReAddReplaces(t *testing.T) {
	ctx := context.Background()
	index := tool.NewIndex(&fakeEmbedder{vectors: map[string][]float32{}})

	dup := &fakeTool{desc: tool.Descriptor{Name: "dup_tool", Description: "first"}}
	gt.NoError(t, index.Add(ctx, dup))
	gt.NoError(t, index.Add(ctx, &fakeTool{desc: tool.Descriptor{Name: "dup_tool", Description: "second"}}))

	names, err := index.Search(ctx, "anything", 5)
	gt.NoError(t, err)
	gt.Equal(t, names, []string{"dup_tool"})
}

func TestIndexEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	index := tool.NewIndex(embedder)
	gt.NoError(t, index.Add(ctx, &fakeTool{desc: tool.Descriptor{Name: "a", Description: "x"}}))

	embedder.failing = true
	_, err := index.Search(ctx, "query", 1)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrRetrievalUnavailable))
}
