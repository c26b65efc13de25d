package repository

import (
	"context"

	"github.com/m-mizutani/lapine/pkg/model"
)

// Repository defines the interface for conversation and memory persistence
type Repository interface {
	// PutConversation saves a conversation to the repository
	PutConversation(ctx context.Context, conv *model.Conversation) error

	// GetConversation retrieves a conversation by ID
	GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error)

	// AppendTurns appends turns to an existing conversation in order
	AppendTurns(ctx context.Context, id model.ConversationID, turns ...model.Turn) error

	// ListConversations retrieves conversations of a user, newest first
	ListConversations(ctx context.Context, userID model.UserID, offset, limit int) ([]*model.Conversation, error)

	// PutMemory saves a memory record with its embedding
	PutMemory(ctx context.Context, memory *model.Memory) error

	// SearchMemories performs vector search over a user's memories
	SearchMemories(ctx context.Context, userID model.UserID, embedding []float32, limit int) ([]*model.Memory, error)

	// GetPreferences retrieves user preferences
	GetPreferences(ctx context.Context, userID model.UserID) (*model.Preferences, error)

	// PutPreferences saves user preferences
	PutPreferences(ctx context.Context, userID model.UserID, prefs *model.Preferences) error

	// PutTodo saves a todo item
	PutTodo(ctx context.Context, todo *model.Todo) error

	// GetTodo retrieves a todo item by ID
	GetTodo(ctx context.Context, userID model.UserID, id model.TodoID) (*model.Todo, error)

	// ListTodos retrieves todo items of a user, newest first
	ListTodos(ctx context.Context, userID model.UserID, limit int) ([]*model.Todo, error)
}
