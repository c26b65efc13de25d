package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"google.golang.org/api/iterator"
)

const (
	collectionConversations = "conversations"
	collectionMemories      = "memories"
	collectionPreferences   = "preferences"
	collectionTodos         = "todos"
)

// Firestore implements Repository interface using Firestore
type Firestore struct {
	client *firestore.Client
}

// New creates a new Firestore repository
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

// Close closes the underlying Firestore client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutConversation(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		return goerr.New("conversation ID is required")
	}

	doc := r.client.Collection(collectionConversations).Doc(string(conv.ID))
	if _, err := doc.Set(ctx, conv); err != nil {
		return goerr.Wrap(err, "failed to put conversation", goerr.V("id", conv.ID))
	}

	return nil
}

func (r *Firestore) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	doc := r.client.Collection(collectionConversations).Doc(string(id))
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V("id", id))
	}

	var conv model.Conversation
	if err := snapshot.DataTo(&conv); err != nil {
		return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V("id", id))
	}

	return &conv, nil
}

func (r *Firestore) AppendTurns(ctx context.Context, id model.ConversationID, turns ...model.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	items := make([]any, len(turns))
	for i, turn := range turns {
		items[i] = turn
	}

	doc := r.client.Collection(collectionConversations).Doc(string(id))
	_, err := doc.Update(ctx, []firestore.Update{
		{Path: "turns", Value: firestore.ArrayUnion(items...)},
		{Path: "updated_at", Value: time.Now()},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to append turns", goerr.V("id", id))
	}

	return nil
}

func (r *Firestore) ListConversations(ctx context.Context, userID model.UserID, offset, limit int) ([]*model.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	query := r.client.Collection(collectionConversations).
		Where("user_id", "==", string(userID)).
		OrderBy("updated_at", firestore.Desc).
		Offset(offset).
		Limit(limit)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var conversations []*model.Conversation
	for {
		snapshot, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate conversations")
		}

		var conv model.Conversation
		if err := snapshot.DataTo(&conv); err != nil {
			return nil, goerr.Wrap(err, "failed to decode conversation")
		}
		conversations = append(conversations, &conv)
	}

	return conversations, nil
}

func (r *Firestore) PutMemory(ctx context.Context, memory *model.Memory) error {
	if memory.ID == "" {
		return goerr.New("memory ID is required")
	}

	doc := r.client.Collection(collectionMemories).Doc(string(memory.ID))
	if _, err := doc.Set(ctx, memory); err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("id", memory.ID))
	}

	return nil
}

func (r *Firestore) SearchMemories(ctx context.Context, userID model.UserID, embedding []float32, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		limit = 5
	}

	query := r.client.Collection(collectionMemories).
		Where("user_id", "==", string(userID)).
		FindNearest("embedding",
			firestore.Vector32(embedding),
			limit,
			firestore.DistanceMeasureCosine,
			nil)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var memories []*model.Memory
	for {
		snapshot, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search memories")
		}

		var memory model.Memory
		if err := snapshot.DataTo(&memory); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory")
		}
		memories = append(memories, &memory)
	}

	return memories, nil
}

func (r *Firestore) GetPreferences(ctx context.Context, userID model.UserID) (*model.Preferences, error) {
	doc := r.client.Collection(collectionPreferences).Doc(string(userID))
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get preferences", goerr.V("user", userID))
	}

	var prefs model.Preferences
	if err := snapshot.DataTo(&prefs); err != nil {
		return nil, goerr.Wrap(err, "failed to decode preferences", goerr.V("user", userID))
	}

	return &prefs, nil
}

func (r *Firestore) PutPreferences(ctx context.Context, userID model.UserID, prefs *model.Preferences) error {
	doc := r.client.Collection(collectionPreferences).Doc(string(userID))
	if _, err := doc.Set(ctx, prefs); err != nil {
		return goerr.Wrap(err, "failed to put preferences", goerr.V("user", userID))
	}

	return nil
}

func (r *Firestore) PutTodo(ctx context.Context, todo *model.Todo) error {
	if todo.ID == "" {
		return goerr.New("todo ID is required")
	}

	doc := r.client.Collection(collectionTodos).Doc(string(todo.ID))
	if _, err := doc.Set(ctx, todo); err != nil {
		return goerr.Wrap(err, "failed to put todo", goerr.V("id", todo.ID))
	}

	return nil
}

func (r *Firestore) GetTodo(ctx context.Context, userID model.UserID, id model.TodoID) (*model.Todo, error) {
	doc := r.client.Collection(collectionTodos).Doc(string(id))
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get todo", goerr.V("id", id))
	}

	var todo model.Todo
	if err := snapshot.DataTo(&todo); err != nil {
		return nil, goerr.Wrap(err, "failed to decode todo", goerr.V("id", id))
	}

	if todo.UserID != userID {
		return nil, goerr.New("todo not found", goerr.V("id", id))
	}

	return &todo, nil
}

func (r *Firestore) ListTodos(ctx context.Context, userID model.UserID, limit int) ([]*model.Todo, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.client.Collection(collectionTodos).
		Where("user_id", "==", string(userID)).
		OrderBy("created_at", firestore.Desc).
		Limit(limit)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var todos []*model.Todo
	for {
		snapshot, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate todos")
		}

		var todo model.Todo
		if err := snapshot.DataTo(&todo); err != nil {
			return nil, goerr.Wrap(err, "failed to decode todo")
		}
		todos = append(todos, &todo)
	}

	return todos, nil
}
