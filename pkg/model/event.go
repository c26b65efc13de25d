package model

// EventKind discriminates the StreamEvent union.
type EventKind string

const (
	// EventText carries an incremental assistant text delta
	EventText EventKind = "text"
	// EventProgress announces a tool call before its result is known
	EventProgress EventKind = "progress"
	// EventData carries a structured payload under a known key
	EventData EventKind = "data"
	// EventError carries a terminal error message
	EventError EventKind = "error"
	// EventDone marks end-of-stream; no events follow
	EventDone EventKind = "done"
)

// Structured payload keys attached to assistant turns alongside free text.
const (
	KeyCalendarOptions  = "calendar_options"
	KeySearchResults    = "search_results"
	KeyWeatherData      = "weather_data"
	KeyEmailComposeData = "email_compose_data"
	KeyMemoryData       = "memory_data"
	KeyTodoData         = "todo_data"
	KeyFollowUpActions  = "follow_up_actions"
	KeyIntegrationInfo  = "integration_required"
)

// ToolProgress describes an in-flight tool call.
type ToolProgress struct {
	Message      string `json:"message"`
	ToolName     string `json:"tool_name"`
	ToolCategory string `json:"tool_category"`
}

// StreamEvent is one unit emitted by the execution graph and consumed by the
// stream multiplexer. Exactly one of the payload fields is meaningful,
// selected by Kind. Events are transient and never stored as-is.
type StreamEvent struct {
	Kind     EventKind
	Text     string
	Progress *ToolProgress
	Key      string
	Payload  any
}

func NewTextEvent(delta string) StreamEvent {
	return StreamEvent{Kind: EventText, Text: delta}
}

func NewProgressEvent(message, toolName, toolCategory string) StreamEvent {
	return StreamEvent{Kind: EventProgress, Progress: &ToolProgress{
		Message:      message,
		ToolName:     toolName,
		ToolCategory: toolCategory,
	}}
}

func NewDataEvent(key string, payload any) StreamEvent {
	return StreamEvent{Kind: EventData, Key: key, Payload: payload}
}

func NewErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Text: message}
}

func NewDoneEvent() StreamEvent {
	return StreamEvent{Kind: EventDone}
}
