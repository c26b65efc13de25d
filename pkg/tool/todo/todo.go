package todo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/tool"
	"google.golang.org/genai"
)

type todoInput struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	ID     string `json:"id"`
	Due    string `json:"due"`
}

type todoTool struct {
	repo repository.Repository
}

// New creates the todo management tool
func New(repo repository.Repository) tool.Tool {
	return &todoTool{repo: repo}
}

func (x *todoTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "manage_todos",
		Description: "Add, list, and complete the user's todo items and tasks",
		Category:    "productivity",
	}
}

func (x *todoTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "manage_todos",
		Description: "Manage the user's todo list",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"action": {
					Type:        genai.TypeString,
					Description: "Operation to perform",
					Enum:        []string{"add", "list", "complete"},
				},
				"title": {
					Type:        genai.TypeString,
					Description: "Todo title, required for add",
				},
				"id": {
					Type:        genai.TypeString,
					Description: "Todo ID, required for complete",
				},
				"due": {
					Type:        genai.TypeString,
					Description: "Optional due time in RFC3339 format",
				},
			},
			Required: []string{"action"},
		},
	}
}

func (x *todoTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	paramsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}

	var input todoInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}

	session := model.SessionFrom(ctx)
	if session == nil {
		return nil, goerr.New("no user session")
	}

	switch input.Action {
	case "add":
		return x.add(ctx, session.UserID, input)
	case "list":
		return x.list(ctx, session.UserID)
	case "complete":
		return x.complete(ctx, session.UserID, input)
	default:
		return nil, goerr.New("unknown action", goerr.V("action", input.Action))
	}
}

func (x *todoTool) add(ctx context.Context, userID model.UserID, input todoInput) (*tool.Result, error) {
	if input.Title == "" {
		return nil, goerr.New("title is required for add")
	}

	item := &model.Todo{
		ID:        model.NewTodoID(),
		UserID:    userID,
		Title:     input.Title,
		CreatedAt: time.Now(),
	}
	if input.Due != "" {
		due, err := time.Parse(time.RFC3339, input.Due)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid due time", goerr.V("due", input.Due))
		}
		item.Due = &due
	}

	if err := x.repo.PutTodo(ctx, item); err != nil {
		return nil, goerr.Wrap(err, "failed to save todo")
	}

	return x.result([]*model.Todo{item})
}

func (x *todoTool) list(ctx context.Context, userID model.UserID) (*tool.Result, error) {
	items, err := x.repo.ListTodos(ctx, userID, 50)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list todos")
	}

	return x.result(items)
}

func (x *todoTool) complete(ctx context.Context, userID model.UserID, input todoInput) (*tool.Result, error) {
	if input.ID == "" {
		return nil, goerr.New("id is required for complete")
	}

	item, err := x.repo.GetTodo(ctx, userID, model.TodoID(input.ID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get todo", goerr.V("id", input.ID))
	}

	item.Done = true
	if err := x.repo.PutTodo(ctx, item); err != nil {
		return nil, goerr.Wrap(err, "failed to update todo")
	}

	return x.result([]*model.Todo{item})
}

func (x *todoTool) result(items []*model.Todo) (*tool.Result, error) {
	resultJSON, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal todos")
	}

	return &tool.Result{
		Content: string(resultJSON),
		Data: map[string]any{
			model.KeyTodoData: items,
		},
	}, nil
}
