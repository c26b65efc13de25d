package chat

import (
	"sync"
	"time"

	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/workflow"
	"google.golang.org/genai"
)

// State is the mutable execution state threaded through graph nodes.
// Contents is the working thread sent to the model; Data accumulates
// structured payloads with last write winning on key collisions.
type State struct {
	RequestID      string
	ConversationID model.ConversationID
	UserID         model.UserID
	Query          string
	Now            time.Time

	System   string
	Contents []*genai.Content

	SideTasks    []workflow.SideTask
	PendingCalls []*genai.FunctionCall
	Depth        int

	Answer string
	Data   map[string]any

	// mu guards Answer, Data, and emission order; tools may emit from
	// parallel goroutines
	mu   sync.Mutex
	emit func(model.StreamEvent)
}

// NewState creates a run state. emit may be nil when no consumer
// listens for events.
func NewState(requestID string, emit func(model.StreamEvent)) *State {
	if emit == nil {
		emit = func(model.StreamEvent) {}
	}
	return &State{
		RequestID: requestID,
		Now:       time.Now(),
		Data:      make(map[string]any),
		emit:      emit,
	}
}

// Emit publishes a stream event to the run's consumer
func (st *State) Emit(ev model.StreamEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.emit(ev)
}

// EmitText publishes a text delta and appends it to the answer
func (st *State) EmitText(delta string) {
	if delta == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Answer += delta
	st.emit(model.NewTextEvent(delta))
}

// EmitData records a structured payload and publishes it. A later
// payload under the same key replaces the earlier one.
func (st *State) EmitData(key string, payload any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Data[key] = payload
	st.emit(model.NewDataEvent(key, payload))
}
