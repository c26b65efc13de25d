package model

import (
	"time"

	"github.com/google/uuid"
)

type TodoID string

// NewTodoID generates a new unique TodoID
func NewTodoID() TodoID {
	return TodoID(uuid.New().String())
}

// Todo is a task item managed through the todo tool
type Todo struct {
	ID        TodoID     `firestore:"id" json:"id"`
	UserID    UserID     `firestore:"user_id" json:"-"`
	Title     string     `firestore:"title" json:"title"`
	Due       *time.Time `firestore:"due,omitempty" json:"due,omitempty"`
	Done      bool       `firestore:"done" json:"done"`
	CreatedAt time.Time  `firestore:"created_at" json:"created_at"`
}
