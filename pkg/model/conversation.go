package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// NewConversationID generates a new unique ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

type UserID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a conversation: one user message or one
// assistant response with its structured tool outputs.
type Turn struct {
	Role      Role           `firestore:"role" json:"role"`
	Content   string         `firestore:"content" json:"content"`
	ToolData  map[string]any `firestore:"tool_data,omitempty" json:"tool_data,omitempty"`
	FileIDs   []string       `firestore:"file_ids,omitempty" json:"file_ids,omitempty"`
	CreatedAt time.Time      `firestore:"created_at" json:"created_at"`
}

// Conversation is a persistent thread of turns owned by a single user.
// Turns are strictly ordered by creation; the document is the consistency
// boundary for concurrent writers.
type Conversation struct {
	ID        ConversationID `firestore:"id"`
	UserID    UserID         `firestore:"user_id"`
	Title     string         `firestore:"title"`
	Turns     []Turn         `firestore:"turns"`
	CreatedAt time.Time      `firestore:"created_at"`
	UpdatedAt time.Time      `firestore:"updated_at"`
}
