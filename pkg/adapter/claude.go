package adapter

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

// Claude is the interface for the secondary Anthropic model. It is used
// for small structured-output tasks kept off the primary stream.
type Claude interface {
	// Chat sends messages to Claude and returns the full response
	Chat(ctx context.Context, system string, messages []anthropic.MessageParam) (*anthropic.Message, error)
}

type claudeClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

type ClaudeOption func(*claudeClient)

func WithClaudeModel(model anthropic.Model) ClaudeOption {
	return func(c *claudeClient) {
		c.model = model
	}
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string, opts ...ClaudeOption) Claude {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	c := &claudeClient{
		client:    &client,
		model:     anthropic.ModelClaudeSonnet4_0,
		maxTokens: 1024,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *claudeClient) Chat(ctx context.Context, system string, messages []anthropic.MessageParam) (*anthropic.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call claude")
	}

	return msg, nil
}
