package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// Memory is a long-term fact recorded about a user, embedded for
// similarity search against later queries. ConversationID points back
// to the turn the fact was extracted from.
type Memory struct {
	ID             MemoryID           `firestore:"id"`
	UserID         UserID             `firestore:"user_id"`
	ConversationID ConversationID     `firestore:"conversation_id"`
	Content        string             `firestore:"content"`
	Embedding      firestore.Vector32 `firestore:"embedding"`
	Score          float64            `firestore:"-"`
	CreatedAt      time.Time          `firestore:"created_at"`
	UpdatedAt      time.Time          `firestore:"updated_at"`
}
