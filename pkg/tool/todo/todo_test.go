package todo_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/tool/todo"
)

// mockRepo implements only the todo methods; the rest panic via the
// embedded nil interface
type mockRepo struct {
	repository.Repository
	todos map[model.TodoID]*model.Todo
}

func newMockRepo() *mockRepo {
	return &mockRepo{todos: make(map[model.TodoID]*model.Todo)}
}

func (r *mockRepo) PutTodo(ctx context.Context, item *model.Todo) error {
	copied := *item
	r.todos[item.ID] = &copied
	return nil
}

func (r *mockRepo) GetTodo(ctx context.Context, userID model.UserID, id model.TodoID) (*model.Todo, error) {
	item, ok := r.todos[id]
	if !ok || item.UserID != userID {
		return nil, goerr.New("todo not found")
	}
	copied := *item
	return &copied, nil
}

func (r *mockRepo) ListTodos(ctx context.Context, userID model.UserID, limit int) ([]*model.Todo, error) {
	var items []*model.Todo
	for _, item := range r.todos {
		if item.UserID == userID {
			copied := *item
			items = append(items, &copied)
		}
	}
	return items, nil
}

func sessionCtx(userID string) context.Context {
	return model.WithSession(context.Background(), &model.Session{UserID: model.UserID(userID)})
}

func TestAddAndList(t *testing.T) {
	repo := newMockRepo()
	tl := todo.New(repo)
	ctx := sessionCtx("u1")

	result, err := tl.Execute(ctx, map[string]any{
		"action": "add",
		"title":  "buy milk",
	})
	gt.NoError(t, err)

	added, ok := result.Data[model.KeyTodoData].([]*model.Todo)
	gt.True(t, ok)
	gt.A(t, added).Length(1)
	gt.Equal(t, added[0].Title, "buy milk")
	gt.False(t, added[0].Done)

	result, err = tl.Execute(ctx, map[string]any{"action": "list"})
	gt.NoError(t, err)
	listed := result.Data[model.KeyTodoData].([]*model.Todo)
	gt.A(t, listed).Length(1)
}

func TestComplete(t *testing.T) {
	repo := newMockRepo()
	tl := todo.New(repo)
	ctx := sessionCtx("u1")

	result, err := tl.Execute(ctx, map[string]any{
		"action": "add",
		"title":  "send report",
	})
	gt.NoError(t, err)
	added := result.Data[model.KeyTodoData].([]*model.Todo)

	result, err = tl.Execute(ctx, map[string]any{
		"action": "complete",
		"id":     string(added[0].ID),
	})
	gt.NoError(t, err)
	completed := result.Data[model.KeyTodoData].([]*model.Todo)
	gt.True(t, completed[0].Done)
}

func TestExecuteWithoutSession(t *testing.T) {
	tl := todo.New(newMockRepo())

	_, err := tl.Execute(context.Background(), map[string]any{"action": "list"})
	gt.Error(t, err)
}

func TestUnknownAction(t *testing.T) {
	tl := todo.New(newMockRepo())

	_, err := tl.Execute(sessionCtx("u1"), map[string]any{"action": "destroy"})
	gt.Error(t, err)
}
