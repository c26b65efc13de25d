package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/service/mcp"
	"github.com/m-mizutani/lapine/pkg/tool"
	"github.com/m-mizutani/lapine/pkg/tool/calendar"
	"github.com/m-mizutani/lapine/pkg/tool/mail"
	"github.com/m-mizutani/lapine/pkg/tool/memorytool"
	"github.com/m-mizutani/lapine/pkg/tool/todo"
	"github.com/m-mizutani/lapine/pkg/tool/weather"
	"github.com/m-mizutani/lapine/pkg/tool/websearch"
	"github.com/m-mizutani/lapine/pkg/usecase/chat"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
	"github.com/m-mizutani/lapine/pkg/workflow"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Repository
	project  string
	database string

	// Adapters
	anthropicAPIKey string
	geminiProject   string
	geminiLocation  string
	bucket          string

	// Orchestration
	policyDir    string
	workflowPath string
	mcpConfig    string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for thread checkpoints",
			Sources:     cli.EnvVars("LAPINE_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key for follow-up suggestions",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// orchestrationFlags returns flags for routing and tool wiring
func orchestrationFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego routing policies",
			Sources:     cli.EnvVars("LAPINE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "workflow-file",
			Usage:       "YAML file of named workflows",
			Sources:     cli.EnvVars("LAPINE_WORKFLOW_FILE"),
			Destination: &cfg.workflowPath,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "YAML file of MCP server connections",
			Sources:     cli.EnvVars("LAPINE_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
	}
}

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required")
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	repo, err := repository.New(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, project, cfg.geminiLocation)
}

// newService wires the full chat service: adapters, tools, retrieval
// index, router, and checkpoint store.
func (cfg *config) newService(ctx context.Context) (*chat.Service, repository.Repository, error) {
	logger := logging.From(ctx)

	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}
	embedder := tool.NewGeminiEmbedder(gemini)

	registry := tool.NewRegistry()
	if err := registry.Register(
		websearch.New(),
		weather.New(),
		calendar.New(),
		mail.New(),
		todo.New(repo),
		memorytool.New(repo, embedder),
	); err != nil {
		return nil, nil, err
	}

	if cfg.mcpConfig != "" {
		mcpTools, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to connect MCP servers")
		}
		if err := registry.Register(mcpTools...); err != nil {
			return nil, nil, err
		}
	}

	index := tool.NewIndex(embedder)
	for _, t := range registry.Retrievable() {
		if err := index.Add(ctx, t); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to index tool",
				goerr.V("tool", t.Descriptor().Name))
		}
	}
	logger.Info("tool registry ready",
		"tools", len(registry.All()), "retrievable", len(registry.Retrievable()))

	router, err := workflow.New(ctx, cfg.policyDir, cfg.workflowPath)
	if err != nil {
		return nil, nil, err
	}

	opts := []chat.Option{
		chat.WithRouter(router),
	}

	if cfg.anthropicAPIKey != "" {
		opts = append(opts, chat.WithClaude(adapter.NewClaude(cfg.anthropicAPIKey)))
	}

	if cfg.bucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.bucket)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create storage")
		}
		opts = append(opts, chat.WithCheckpointer(chat.NewStorageCheckpointer(storage)))
	}

	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, index, opts...)
	return svc, repo, nil
}
