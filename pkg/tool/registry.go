package tool

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"google.golang.org/genai"
)

var (
	// ErrDuplicateTool is returned when two tools register the same name
	ErrDuplicateTool = goerr.New("tool already registered")

	errToolNotFound = goerr.New("tool not found")
)

// Registry manages the available tools. Registration order is preserved
// and used as the tie-break order everywhere tools are enumerated.
type Registry struct {
	order []Tool
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds tools to the registry. Fails on duplicate names.
func (r *Registry) Register(tools ...Tool) error {
	for _, t := range tools {
		name := t.Descriptor().Name
		if name == "" {
			return goerr.New("tool name is required")
		}
		if _, exists := r.tools[name]; exists {
			return goerr.Wrap(ErrDuplicateTool, "duplicate tool name", goerr.V("name", name))
		}
		r.tools[name] = t
		r.order = append(r.order, t)
	}
	return nil
}

// All returns every registered tool in registration order
func (r *Registry) All() []Tool {
	return r.order
}

// Core returns the always-available tools in registration order
func (r *Registry) Core() []Tool {
	var core []Tool
	for _, t := range r.order {
		if t.Descriptor().Core {
			core = append(core, t)
		}
	}
	return core
}

// Retrievable returns the tools subject to retrieval, in registration order
func (r *Registry) Retrievable() []Tool {
	var tools []Tool
	for _, t := range r.order {
		if !t.Descriptor().Core {
			tools = append(tools, t)
		}
	}
	return tools
}

// Get returns the tool with the given name
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// CategoryOf returns the category of the named tool, or empty string
func (r *Registry) CategoryOf(name string) string {
	if t, ok := r.tools[name]; ok {
		return t.Descriptor().Category
	}
	return ""
}

// Specs converts a tool set to Gemini tool specifications
func Specs(tools []Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		if decl := t.Declaration(); decl != nil {
			decls = append(decls, decl)
		}
	}
	if len(decls) == 0 {
		return nil
	}

	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Execute runs the tool named by the function call. Tools that require a
// not-yet-connected integration fail before execution with
// ErrIntegrationRequired carrying the integration id.
func (r *Registry) Execute(ctx context.Context, fc genai.FunctionCall) (*Result, error) {
	t, ok := r.tools[fc.Name]
	if !ok {
		return nil, goerr.Wrap(errToolNotFound, "tool not found", goerr.V("name", fc.Name))
	}

	desc := t.Descriptor()
	if desc.RequiredIntegration != "" {
		session := model.SessionFrom(ctx)
		if session == nil || !session.HasIntegration(desc.RequiredIntegration) {
			return nil, goerr.Wrap(model.ErrIntegrationRequired, "tool requires integration",
				goerr.V("integration", desc.RequiredIntegration),
				goerr.V("tool", fc.Name))
		}
	}

	return t.Execute(ctx, fc.Args)
}
