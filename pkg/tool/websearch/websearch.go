package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
	"google.golang.org/genai"
)

const defaultBaseURL = "https://api.duckduckgo.com"

type searchInput struct {
	Query string `json:"query"`
}

// SearchResult is one entry of the search_results payload
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type webSearch struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*webSearch)

// WithBaseURL overrides the search endpoint, mainly for tests
func WithBaseURL(baseURL string) Option {
	return func(x *webSearch) {
		x.baseURL = baseURL
	}
}

// New creates the web search tool
func New(opts ...Option) tool.Tool {
	x := &webSearch{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *webSearch) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "web_search",
		Description: "Search the web for current information, news, facts, and anything beyond the model's knowledge",
		Category:    "search",
		Core:        true,
	}
}

func (x *webSearch) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "web_search",
		Description: "Search the web and return relevant results with titles, URLs, and snippets",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "The search query",
				},
			},
			Required: []string{"query"},
		},
	}
}

func (x *webSearch) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	paramsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}

	var input searchInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if input.Query == "" {
		return nil, goerr.New("query is required")
	}

	results, err := x.search(ctx, input.Query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search", goerr.V("query", input.Query))
	}

	resultJSON, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal results")
	}

	return &tool.Result{
		Content: string(resultJSON),
		Data: map[string]any{
			model.KeySearchResults: results,
		},
	}, nil
}

type apiResponse struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (x *webSearch) search(ctx context.Context, query string) ([]SearchResult, error) {
	endpoint := x.baseURL + "/?q=" + url.QueryEscape(query) + "&format=json&no_html=1"

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, goerr.New("search API returned error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(body)))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, goerr.Wrap(err, "failed to decode response")
	}

	var results []SearchResult
	if apiResp.AbstractText != "" {
		results = append(results, SearchResult{
			Title:   apiResp.Heading,
			URL:     apiResp.AbstractURL,
			Snippet: apiResp.AbstractText,
		})
	}
	for _, topic := range apiResp.RelatedTopics {
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:   topic.Text,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
		if len(results) >= 8 {
			break
		}
	}

	return results, nil
}
