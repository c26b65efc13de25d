package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/genai"
)

// mcpTool adapts one MCP server tool to the tool.Tool interface
type mcpTool struct {
	client      *Client
	serverName  string
	integration string
	source      *mcp.Tool
	decl        *genai.FunctionDeclaration
}

// Tools wraps every tool of the connected servers as tool.Tool values.
// Tool names are prefixed with the server name to keep them unique
// across catalogs. integrations maps server name to the required
// integration id (empty for none).
func Tools(ctx context.Context, client *Client, integrations map[string]string) ([]tool.Tool, error) {
	var tools []tool.Tool

	for _, serverName := range client.GetAllServers() {
		serverTools, err := client.GetTools(serverName)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get tools from server",
				goerr.V("server", serverName))
		}

		for _, t := range serverTools {
			decl, err := toFunctionDeclaration(serverName, t)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert tool",
					goerr.V("server", serverName),
					goerr.V("tool", t.Name))
			}

			tools = append(tools, &mcpTool{
				client:      client,
				serverName:  serverName,
				integration: integrations[serverName],
				source:      t,
				decl:        decl,
			})
		}
	}

	return tools, nil
}

func (t *mcpTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:                t.decl.Name,
		Description:         t.source.Description,
		Category:            "mcp",
		RequiredIntegration: t.integration,
	}
}

func (t *mcpTool) Declaration() *genai.FunctionDeclaration {
	return t.decl
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	result, err := t.client.CallTool(ctx, t.serverName, t.source.Name, args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call MCP tool")
	}

	if result.IsError {
		return nil, goerr.New("MCP tool returned error",
			goerr.V("tool", t.source.Name),
			goerr.V("content", contentText(result)))
	}

	text := contentText(result)
	if text == "" {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal result")
		}
		text = string(resultJSON)
	}

	return &tool.Result{Content: text}, nil
}

// contentText concatenates the text blocks of a tool result
func contentText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toFunctionDeclaration converts an MCP tool to a Gemini function
// declaration, prefixing the name with the server name
func toFunctionDeclaration(serverName string, t *mcp.Tool) (*genai.FunctionDeclaration, error) {
	decl := &genai.FunctionDeclaration{
		Name:        serverName + "_" + t.Name,
		Description: t.Description,
	}

	if t.InputSchema != nil {
		// InputSchema is opaque; round-trip through JSON to get a
		// jsonschema.Schema we can walk
		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal input schema")
		}

		var jsSchema jsonschema.Schema
		if err := json.Unmarshal(schemaJSON, &jsSchema); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal input schema")
		}

		schema, err := toGenaiSchema(&jsSchema)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert input schema")
		}
		decl.Parameters = schema
	}

	return decl, nil
}
