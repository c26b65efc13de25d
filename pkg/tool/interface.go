package tool

import (
	"context"

	"google.golang.org/genai"
)

// Descriptor carries the metadata the registry and index need about a tool
type Descriptor struct {
	// Name must be unique within a registry
	Name string

	// Description is what the index embeds for retrieval and what the
	// model sees in the function declaration
	Description string

	// Category is a coarse grouping reported in progress events
	Category string

	// Core marks tools that are always offered to the model regardless
	// of retrieval results
	Core bool

	// RequiredIntegration names the external service the user must have
	// connected before this tool may run. Empty means none.
	RequiredIntegration string
}

// Result is the outcome of a tool execution. Content goes back to the
// model as the function response; Data carries structured payloads that
// are streamed to the client and attached to the assistant turn.
type Result struct {
	Content string
	Data    map[string]any
}

// Tool represents a capability that can be called by the LLM
type Tool interface {
	// Descriptor returns the tool metadata
	Descriptor() Descriptor

	// Declaration returns the function declaration for Gemini function calling
	Declaration() *genai.FunctionDeclaration

	// Execute runs the tool with arguments from the function call
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}
