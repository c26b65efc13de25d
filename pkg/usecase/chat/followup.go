package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
)

const maxFollowUps = 3

const followUpSystem = `You suggest short follow-up actions after an assistant answer. Given the user's question and the answer, reply with a JSON array of up to 3 strings, each a short action the user might take next, phrased as a request the user could send. Reply with the JSON array only. Reply with [] when no follow-up makes sense.`

// FollowUpper proposes next actions for a finished answer using the
// secondary model. Failures are logged and produce no suggestions.
type FollowUpper struct {
	claude adapter.Claude
}

// NewFollowUpper creates a follow-up generator
func NewFollowUpper(claude adapter.Claude) *FollowUpper {
	return &FollowUpper{claude: claude}
}

// Suggest returns up to three follow-up actions. A nil slice means no
// suggestions, which is never an error for the caller.
func (f *FollowUpper) Suggest(ctx context.Context, query, answer string) []string {
	if f.claude == nil {
		return nil
	}
	logger := logging.From(ctx)

	prompt := "Question:\n" + query + "\n\nAnswer:\n" + answer
	msg, err := f.claude.Chat(ctx, followUpSystem, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
	if err != nil {
		logger.Warn("follow-up generation failed", "error", err)
		return nil
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	actions := parseActions(ctx, text.String())
	if len(actions) > maxFollowUps {
		actions = actions[:maxFollowUps]
	}
	return actions
}

// parseActions extracts a JSON string array from model output that may
// wrap it in prose or a code fence. Unparsable output is logged and
// yields no suggestions.
func parseActions(ctx context.Context, text string) []string {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil
	}

	var actions []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &actions); err != nil {
		logging.From(ctx).Warn("failed to parse follow-up actions", "error", err)
		return nil
	}

	out := actions[:0]
	for _, a := range actions {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
