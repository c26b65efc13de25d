package chat_test

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
	"google.golang.org/genai"
)

// fakeGemini replays scripted stream responses. Each GenerateStream call
// consumes the next script; the last script repeats when exhausted.
// When streamErr is set the stream fails after the script is replayed.
type fakeGemini struct {
	mu      sync.Mutex
	scripts [][]*genai.GenerateContentResponse
	calls   int

	generated string
	streamErr error
	configs   []*genai.GenerateContentConfig
}

func (f *fakeGemini) lastConfig() *genai.GenerateContentConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.configs) == 0 {
		return nil
	}
	return f.configs[len(f.configs)-1]
}

func textResp(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text}},
			},
		}},
	}
}

func callResp(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{Name: name, Args: args},
				}},
			},
		}},
	}
}

func (f *fakeGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	text := f.generated
	if text == "" {
		text = "NONE"
	}
	return textResp(text), nil
}

func (f *fakeGemini) GenerateStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		f.mu.Lock()
		f.configs = append(f.configs, config)
		idx := f.calls
		if idx >= len(f.scripts) {
			idx = len(f.scripts) - 1
		}
		f.calls++
		var script []*genai.GenerateContentResponse
		if idx >= 0 {
			script = f.scripts[idx]
		}
		f.mu.Unlock()

		for _, resp := range script {
			if !yield(resp, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func (f *fakeGemini) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 0, 0}}},
	}, nil
}

// fakeEmbedder returns a fixed vector, or fails when told to
type fakeEmbedder struct {
	failing bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failing {
		return nil, goerr.New("embedder offline")
	}
	return []float32{1, 0, 0}, nil
}

// memRepo is a full in-memory Repository for orchestration tests
type memRepo struct {
	mu            sync.Mutex
	conversations map[model.ConversationID]*model.Conversation
	memories      []*model.Memory
	prefs         map[model.UserID]*model.Preferences
	todos         map[model.TodoID]*model.Todo

	putConvCalls int
	appendCalls  int
}

func newMemRepo() *memRepo {
	return &memRepo{
		conversations: make(map[model.ConversationID]*model.Conversation),
		prefs:         make(map[model.UserID]*model.Preferences),
		todos:         make(map[model.TodoID]*model.Todo),
	}
}

func (r *memRepo) PutConversation(ctx context.Context, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putConvCalls++
	r.conversations[conv.ID] = conv
	return nil
}

func (r *memRepo) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, goerr.New("conversation not found", goerr.V("id", id))
	}
	return conv, nil
}

func (r *memRepo) AppendTurns(ctx context.Context, id model.ConversationID, turns ...model.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok {
		return goerr.New("conversation not found", goerr.V("id", id))
	}
	r.appendCalls++
	conv.Turns = append(conv.Turns, turns...)
	return nil
}

func (r *memRepo) ListConversations(ctx context.Context, userID model.UserID, offset, limit int) ([]*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Conversation
	for _, conv := range r.conversations {
		if conv.UserID == userID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) PutMemory(ctx context.Context, memory *model.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memories = append(r.memories, memory)
	return nil
}

func (r *memRepo) SearchMemories(ctx context.Context, userID model.UserID, embedding []float32, limit int) ([]*model.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Memory
	for _, m := range r.memories {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) GetPreferences(ctx context.Context, userID model.UserID) (*model.Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.prefs[userID]; ok {
		return p, nil
	}
	return nil, nil
}

func (r *memRepo) PutPreferences(ctx context.Context, userID model.UserID, prefs *model.Preferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[userID] = prefs
	return nil
}

func (r *memRepo) PutTodo(ctx context.Context, todo *model.Todo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.todos[todo.ID] = todo
	return nil
}

func (r *memRepo) GetTodo(ctx context.Context, userID model.UserID, id model.TodoID) (*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	todo, ok := r.todos[id]
	if !ok || todo.UserID != userID {
		return nil, goerr.New("todo not found", goerr.V("id", id))
	}
	return todo, nil
}

func (r *memRepo) ListTodos(ctx context.Context, userID model.UserID, limit int) ([]*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Todo
	for _, t := range r.todos {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// scriptedTool is a minimal Tool for orchestration tests
type scriptedTool struct {
	desc    tool.Descriptor
	execute func(ctx context.Context, args map[string]any) (*tool.Result, error)

	mu    sync.Mutex
	calls int
}

func (t *scriptedTool) Descriptor() tool.Descriptor {
	return t.desc
}

func (t *scriptedTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.desc.Name,
		Description: t.desc.Description,
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"input": {Type: genai.TypeString},
			},
		},
	}
}

func (t *scriptedTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	return &tool.Result{Content: "ok"}, nil
}

func (t *scriptedTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
