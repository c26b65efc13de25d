package main

import (
	"context"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type greetParams struct {
	Name string `json:"name" jsonschema:"Name to greet"`
}

func greet(ctx context.Context, req *mcp.CallToolRequest, params *greetParams) (*mcp.CallToolResult, any, error) {
	name := params.Name
	if name == "" {
		name = "World"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Hello, " + name + "!"},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-stdio-server",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "greet",
		Description: "Greet someone by name",
	}, greet)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
