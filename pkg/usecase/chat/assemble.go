package chat

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/tool"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
	"google.golang.org/genai"
)

const basePreamble = `You are a personal assistant. Answer concisely and use the available tools when they help. Never fabricate tool results.`

// Assembler builds the system preamble and the ordered model contents
// for a request from history, attachments, memories, and preferences.
type Assembler struct {
	repo     repository.Repository
	embedder tool.Embedder
}

// NewAssembler creates a message assembler
func NewAssembler(repo repository.Repository, embedder tool.Embedder) *Assembler {
	return &Assembler{repo: repo, embedder: embedder}
}

// AssembleInput carries everything the assembler may draw from.
// History, when set, is a pruned thread from a checkpoint and takes
// the place of rebuilding from stored turns.
type AssembleInput struct {
	Request *model.ChatRequest
	Session *model.Session
	History []*genai.Content
	Now     time.Time
}

// AssembleOutput is the assembled model input
type AssembleOutput struct {
	System   string
	Contents []*genai.Content
}

// Assemble builds the model input. Memory search and preference lookup
// are best-effort: their failures are logged and never block the turn.
func (a *Assembler) Assemble(ctx context.Context, in AssembleInput) (*AssembleOutput, error) {
	req := in.Request
	if req.Message == "" {
		return nil, goerr.New("message is required")
	}

	contents, err := a.history(ctx, in)
	if err != nil {
		return nil, err
	}

	firstTurn := len(contents) == 0

	userText := req.Message
	if manifest := fileManifest(req); manifest != "" {
		userText += "\n\n" + manifest
	}
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))

	return &AssembleOutput{
		System:   a.systemPreamble(ctx, in, firstTurn),
		Contents: contents,
	}, nil
}

func (a *Assembler) history(ctx context.Context, in AssembleInput) ([]*genai.Content, error) {
	req := in.Request

	// Explicit history from the client wins over anything stored
	if len(req.Messages) > 0 {
		contents := make([]*genai.Content, 0, len(req.Messages))
		for _, m := range req.Messages {
			role := genai.Role(genai.RoleUser)
			if m.Role == string(model.RoleAssistant) || m.Role == "model" {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(m.Content, role))
		}
		return contents, nil
	}

	if in.History != nil {
		return in.History, nil
	}

	if req.ConversationID == "" {
		return nil, nil
	}

	conv, err := a.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load conversation",
			goerr.V("id", req.ConversationID))
	}

	contents := make([]*genai.Content, 0, len(conv.Turns))
	for _, turn := range conv.Turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return contents, nil
}

func (a *Assembler) systemPreamble(ctx context.Context, in AssembleInput, firstTurn bool) string {
	logger := logging.From(ctx)
	parts := []string{basePreamble}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	timezone := ""
	if in.Session != nil {
		timezone = in.Session.Timezone
	}
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			now = now.In(loc)
		}
	}
	parts = append(parts, "Current time: "+now.Format(time.RFC1123))

	if in.Session != nil {
		if prefs, err := a.repo.GetPreferences(ctx, in.Session.UserID); err == nil {
			if p := preferenceText(prefs); p != "" {
				parts = append(parts, p)
			}
		}
	}

	if memories := a.searchMemories(ctx, in); len(memories) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant facts about the user:\n")
		for _, m := range memories {
			sb.WriteString("- " + m.Content + "\n")
		}
		parts = append(parts, strings.TrimRight(sb.String(), "\n"))
	}

	if firstTurn && in.Request.SelectedTool != "" {
		parts = append(parts, "The user explicitly selected the "+in.Request.SelectedTool+
			" tool for this conversation. Prefer it for the first response.")
		logger.Debug("selected tool directive added", "tool", in.Request.SelectedTool)
	}

	return strings.Join(parts, "\n\n")
}

func (a *Assembler) searchMemories(ctx context.Context, in AssembleInput) []*model.Memory {
	if in.Session == nil || a.embedder == nil {
		return nil
	}
	logger := logging.From(ctx)

	vector, err := a.embedder.Embed(ctx, in.Request.Message)
	if err != nil {
		logger.Warn("memory search skipped: embedding failed", "error", err)
		return nil
	}

	memories, err := a.repo.SearchMemories(ctx, in.Session.UserID, vector, 3)
	if err != nil {
		logger.Warn("memory search skipped: query failed", "error", err)
		return nil
	}

	return memories
}

func preferenceText(prefs *model.Preferences) string {
	if prefs == nil {
		return ""
	}
	var parts []string
	if prefs.DisplayName != "" {
		parts = append(parts, "The user's name is "+prefs.DisplayName+".")
	}
	if prefs.ResponseStyle != "" {
		parts = append(parts, "Preferred response style: "+prefs.ResponseStyle+".")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ")
}

func fileManifest(req *model.ChatRequest) string {
	if len(req.FileData) == 0 && len(req.FileIDs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Attached files:\n")
	listed := make(map[string]bool)
	for _, f := range req.FileData {
		name := f.Name
		if name == "" {
			name = f.ID
		}
		if f.MIMEType != "" {
			name += " (" + f.MIMEType + ")"
		}
		sb.WriteString("- " + name + "\n")
		listed[f.ID] = true
	}
	for _, id := range req.FileIDs {
		if !listed[id] {
			sb.WriteString("- " + id + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
