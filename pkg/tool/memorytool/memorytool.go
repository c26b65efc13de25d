package memorytool

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/tool"
	"google.golang.org/genai"
)

type memoryInput struct {
	Action  string `json:"action"`
	Content string `json:"content"`
	Query   string `json:"query"`
}

// Entry is one entry of the memory_data payload
type Entry struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type memoryTool struct {
	repo     repository.Repository
	embedder tool.Embedder
}

// New creates the memory tool for explicit remember/recall requests
func New(repo repository.Repository, embedder tool.Embedder) tool.Tool {
	return &memoryTool{repo: repo, embedder: embedder}
}

func (x *memoryTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "manage_memories",
		Description: "Remember facts about the user on request, or recall previously remembered facts",
		Category:    "memory",
	}
}

func (x *memoryTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "manage_memories",
		Description: "Store a fact about the user, or search stored facts",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"action": {
					Type:        genai.TypeString,
					Description: "Operation to perform",
					Enum:        []string{"remember", "recall"},
				},
				"content": {
					Type:        genai.TypeString,
					Description: "The fact to remember, required for remember",
				},
				"query": {
					Type:        genai.TypeString,
					Description: "Search query, required for recall",
				},
			},
			Required: []string{"action"},
		},
	}
}

func (x *memoryTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	paramsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}

	var input memoryInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}

	session := model.SessionFrom(ctx)
	if session == nil {
		return nil, goerr.New("no user session")
	}

	switch input.Action {
	case "remember":
		return x.remember(ctx, session.UserID, input.Content)
	case "recall":
		return x.recall(ctx, session.UserID, input.Query)
	default:
		return nil, goerr.New("unknown action", goerr.V("action", input.Action))
	}
}

func (x *memoryTool) remember(ctx context.Context, userID model.UserID, content string) (*tool.Result, error) {
	if content == "" {
		return nil, goerr.New("content is required for remember")
	}

	vector, err := x.embedder.Embed(ctx, content)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed memory content")
	}

	now := time.Now()
	memory := &model.Memory{
		ID:        model.NewMemoryID(),
		UserID:    userID,
		Content:   content,
		Embedding: firestore.Vector32(vector),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := x.repo.PutMemory(ctx, memory); err != nil {
		return nil, goerr.Wrap(err, "failed to save memory")
	}

	return x.result([]Entry{{ID: string(memory.ID), Content: memory.Content}})
}

func (x *memoryTool) recall(ctx context.Context, userID model.UserID, query string) (*tool.Result, error) {
	if query == "" {
		return nil, goerr.New("query is required for recall")
	}

	vector, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	memories, err := x.repo.SearchMemories(ctx, userID, vector, 5)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memories")
	}

	entries := make([]Entry, 0, len(memories))
	for _, m := range memories {
		entries = append(entries, Entry{ID: string(m.ID), Content: m.Content})
	}

	return x.result(entries)
}

func (x *memoryTool) result(entries []Entry) (*tool.Result, error) {
	resultJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal entries")
	}

	return &tool.Result{
		Content: string(resultJSON),
		Data: map[string]any{
			model.KeyMemoryData: entries,
		},
	}, nil
}
