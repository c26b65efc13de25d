package tool

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/repository"
)

// Client contains shared resources that tools can use
type Client struct {
	Repo   repository.Repository
	Gemini adapter.Gemini
}

// geminiEmbedder adapts the Gemini client to the Embedder interface
type geminiEmbedder struct {
	gemini adapter.Gemini
}

// NewGeminiEmbedder wraps a Gemini adapter as an Embedder
func NewGeminiEmbedder(gemini adapter.Gemini) Embedder {
	return &geminiEmbedder{gemini: gemini}
}

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.gemini.Embedding(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text")
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}
