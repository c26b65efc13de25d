package websearch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool/websearch"
)

func TestExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Query().Get("format"), "json")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Heading": "Go",
			"AbstractText": "Go is a programming language.",
			"AbstractURL": "https://go.dev",
			"RelatedTopics": [
				{"Text": "Golang tutorials", "FirstURL": "https://example.com/tutorials"}
			]
		}`))
	}))
	defer server.Close()

	ws := websearch.New(websearch.WithBaseURL(server.URL))
	gt.True(t, ws.Descriptor().Core)

	result, err := ws.Execute(context.Background(), map[string]any{"query": "golang"})
	gt.NoError(t, err)
	gt.V(t, result).NotNil()
	gt.S(t, result.Content).Contains("go.dev")

	payload, ok := result.Data[model.KeySearchResults].([]websearch.SearchResult)
	gt.True(t, ok)
	gt.A(t, payload).Length(2)
	gt.Equal(t, payload[0].Title, "Go")
}

func TestExecuteMissingQuery(t *testing.T) {
	ws := websearch.New()
	_, err := ws.Execute(context.Background(), map[string]any{})
	gt.Error(t, err)
}

func TestExecuteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	ws := websearch.New(websearch.WithBaseURL(server.URL))
	_, err := ws.Execute(context.Background(), map[string]any{"query": "golang"})
	gt.Error(t, err)
}
