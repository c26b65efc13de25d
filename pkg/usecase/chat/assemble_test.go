package chat_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/usecase/chat"
)

func TestAssemble(t *testing.T) {
	ctx := context.Background()
	session := &model.Session{UserID: "user-1", Timezone: "Asia/Tokyo"}

	t.Run("empty message is rejected", func(t *testing.T) {
		a := chat.NewAssembler(newMemRepo(), &fakeEmbedder{})
		_, err := a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{},
			Session: session,
		})
		gt.Error(t, err)
	})

	t.Run("rebuilds history from stored turns", func(t *testing.T) {
		repo := newMemRepo()
		conv := &model.Conversation{
			ID:     "conv-1",
			UserID: "user-1",
			Turns: []model.Turn{
				{Role: model.RoleUser, Content: "first question"},
				{Role: model.RoleAssistant, Content: "first answer"},
			},
		}
		gt.NoError(t, repo.PutConversation(ctx, conv))

		a := chat.NewAssembler(repo, &fakeEmbedder{})
		out, err := a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{
				Message:        "second question",
				ConversationID: "conv-1",
			},
			Session: session,
		})
		gt.NoError(t, err)
		gt.A(t, out.Contents).Length(3)
		gt.Equal(t, out.Contents[0].Parts[0].Text, "first question")
		gt.Equal(t, out.Contents[1].Role, "model")
		gt.Equal(t, out.Contents[2].Parts[0].Text, "second question")
	})

	t.Run("client supplied messages win over stored turns", func(t *testing.T) {
		a := chat.NewAssembler(newMemRepo(), &fakeEmbedder{})
		out, err := a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{
				Message: "next",
				Messages: []model.RawMessage{
					{Role: "user", Content: "earlier"},
					{Role: "assistant", Content: "reply"},
				},
			},
			Session: session,
		})
		gt.NoError(t, err)
		gt.A(t, out.Contents).Length(3)
		gt.Equal(t, out.Contents[1].Role, "model")
	})

	t.Run("file manifest is appended to the user message", func(t *testing.T) {
		a := chat.NewAssembler(newMemRepo(), &fakeEmbedder{})
		out, err := a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{
				Message: "summarize this",
				FileData: []model.FileRef{
					{ID: "f-1", Name: "notes.pdf", MIMEType: "application/pdf"},
				},
				FileIDs: []string{"f-1", "f-2"},
			},
			Session: session,
		})
		gt.NoError(t, err)

		text := out.Contents[0].Parts[0].Text
		gt.S(t, text).Contains("summarize this")
		gt.S(t, text).Contains("notes.pdf (application/pdf)")
		gt.S(t, text).Contains("f-2")
	})

	t.Run("preamble carries time preferences and memories", func(t *testing.T) {
		repo := newMemRepo()
		gt.NoError(t, repo.PutPreferences(ctx, "user-1", &model.Preferences{
			DisplayName:   "Mizuki",
			ResponseStyle: "short answers",
		}))
		gt.NoError(t, repo.PutMemory(ctx, &model.Memory{
			ID:      model.NewMemoryID(),
			UserID:  "user-1",
			Content: "Allergic to peanuts",
		}))

		a := chat.NewAssembler(repo, &fakeEmbedder{})
		out, err := a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{Message: "dinner ideas?"},
			Session: session,
			Now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		})
		gt.NoError(t, err)

		gt.S(t, out.System).Contains("Current time:")
		gt.S(t, out.System).Contains("Mizuki")
		gt.S(t, out.System).Contains("short answers")
		gt.S(t, out.System).Contains("Allergic to peanuts")
	})

	t.Run("selected tool directive only on the first turn", func(t *testing.T) {
		a := chat.NewAssembler(newMemRepo(), &fakeEmbedder{})

		out, err := a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{Message: "weather?", SelectedTool: "get_weather"},
			Session: session,
		})
		gt.NoError(t, err)
		gt.S(t, out.System).Contains("get_weather")

		out, err = a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{
				Message:      "and tomorrow?",
				SelectedTool: "get_weather",
				Messages: []model.RawMessage{
					{Role: "user", Content: "weather?"},
					{Role: "assistant", Content: "sunny"},
				},
			},
			Session: session,
		})
		gt.NoError(t, err)
		gt.False(t, strings.Contains(out.System, "get_weather"))
	})

	t.Run("memory search failure never blocks the turn", func(t *testing.T) {
		a := chat.NewAssembler(newMemRepo(), &fakeEmbedder{failing: true})
		out, err := a.Assemble(ctx, chat.AssembleInput{
			Request: &model.ChatRequest{Message: "hello"},
			Session: session,
		})
		gt.NoError(t, err)
		gt.A(t, out.Contents).Length(1)
	})
}
