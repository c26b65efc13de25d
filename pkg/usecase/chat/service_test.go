package chat_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
	"github.com/m-mizutani/lapine/pkg/usecase/chat"
	"github.com/m-mizutani/lapine/pkg/workflow"
	"google.golang.org/genai"
)

func sessionCtx(userID string, integrations ...string) context.Context {
	return model.WithSession(context.Background(), &model.Session{
		UserID:       model.UserID(userID),
		Email:        userID + "@example.com",
		Integrations: integrations,
	})
}

func collectEvents() (func(model.StreamEvent), *[]model.StreamEvent) {
	var events []model.StreamEvent
	return func(ev model.StreamEvent) {
		events = append(events, ev)
	}, &events
}

func TestChatToolRoundTrip(t *testing.T) {
	ctx := sessionCtx("user-1")

	report := &scriptedTool{
		desc: tool.Descriptor{
			Name:        "get_report",
			Description: "Fetch the daily report",
			Category:    "search",
			Core:        true,
		},
		execute: func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			return &tool.Result{
				Content: "report body",
				Data: map[string]any{
					model.KeySearchResults: []string{"report body"},
				},
			}, nil
		},
	}

	registry := tool.NewRegistry()
	gt.NoError(t, registry.Register(report))

	gemini := &fakeGemini{scripts: [][]*genai.GenerateContentResponse{
		{callResp("get_report", map[string]any{"input": "today"})},
		{textResp("Here is "), textResp("your report.")},
	}}

	repo := newMemRepo()
	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}))

	emit, events := collectEvents()
	resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "show me the report"}, emit)
	gt.NoError(t, err)
	svc.WaitRecorder()

	gt.Equal(t, resp.Answer, "Here is your report.")
	gt.Equal(t, report.callCount(), 1)
	gt.V(t, resp.Data[model.KeySearchResults]).NotNil()
	gt.True(t, resp.ConversationID != "")

	seen := make(map[model.EventKind]bool)
	for _, ev := range *events {
		seen[ev.Kind] = true
	}
	gt.True(t, seen[model.EventProgress])
	gt.True(t, seen[model.EventText])
	gt.True(t, seen[model.EventData])
	gt.True(t, seen[model.EventDone])

	conv, err := repo.GetConversation(ctx, resp.ConversationID)
	gt.NoError(t, err)
	gt.A(t, conv.Turns).Length(2)
	gt.Equal(t, conv.Turns[1].Content, "Here is your report.")
}

func TestChatIntegrationRequired(t *testing.T) {
	ctx := sessionCtx("user-1")

	calendar := &scriptedTool{
		desc: tool.Descriptor{
			Name:                "propose_event",
			Description:         "Propose calendar events",
			Category:            "calendar",
			Core:                true,
			RequiredIntegration: "google_calendar",
		},
	}

	registry := tool.NewRegistry()
	gt.NoError(t, registry.Register(calendar))

	gemini := &fakeGemini{scripts: [][]*genai.GenerateContentResponse{
		{callResp("propose_event", map[string]any{"title": "lunch"})},
		{textResp("Please connect your calendar first.")},
	}}

	repo := newMemRepo()
	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}))

	resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "schedule lunch"}, nil)
	gt.NoError(t, err)
	svc.WaitRecorder()

	// The tool body never ran; the structured payload tells the client
	// which integration to connect
	gt.Equal(t, calendar.callCount(), 0)
	info, ok := resp.Data[model.KeyIntegrationInfo].(map[string]any)
	gt.True(t, ok)
	gt.Equal(t, info["integration"], "google_calendar")
	gt.Equal(t, info["tool"], "propose_event")
}

func TestChatRetrievalDegradesToCore(t *testing.T) {
	ctx := sessionCtx("user-1")

	core := &scriptedTool{desc: tool.Descriptor{
		Name: "web_search", Description: "Search the web", Core: true,
	}}
	extra := &scriptedTool{desc: tool.Descriptor{
		Name: "get_weather", Description: "Get a weather forecast",
	}}

	registry := tool.NewRegistry()
	gt.NoError(t, registry.Register(core, extra))

	embedder := &fakeEmbedder{}
	index := tool.NewIndex(embedder)
	gt.NoError(t, index.Add(ctx, extra))
	embedder.failing = true

	gemini := &fakeGemini{scripts: [][]*genai.GenerateContentResponse{
		{textResp("done without tools")},
	}}

	svc := chat.New(gemini, newMemRepo(), adapter.NewMemoryCache(), registry, index,
		chat.WithEmbedder(&fakeEmbedder{}))

	resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "anything"}, nil)
	gt.NoError(t, err)
	svc.WaitRecorder()
	gt.Equal(t, resp.Answer, "done without tools")

	config := gemini.lastConfig()
	gt.V(t, config).NotNil()
	gt.A(t, config.Tools).Length(1)
	decls := config.Tools[0].FunctionDeclarations
	gt.A(t, decls).Length(1)
	gt.Equal(t, decls[0].Name, "web_search")
}

func TestChatRecursionLimit(t *testing.T) {
	ctx := sessionCtx("user-1")

	busy := &scriptedTool{desc: tool.Descriptor{
		Name: "busy_tool", Description: "Never enough", Core: true,
	}}

	registry := tool.NewRegistry()
	gt.NoError(t, registry.Register(busy))

	// The model asks for the tool on every round
	gemini := &fakeGemini{scripts: [][]*genai.GenerateContentResponse{
		{callResp("busy_tool", nil)},
	}}

	repo := newMemRepo()
	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}))

	resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "loop forever"}, nil)
	gt.NoError(t, err)
	svc.WaitRecorder()

	gt.Equal(t, busy.callCount(), 20)
	gt.S(t, resp.Answer).Contains("could not finish")

	conv, err := repo.GetConversation(ctx, resp.ConversationID)
	gt.NoError(t, err)
	gt.A(t, conv.Turns).Length(2)
	gt.S(t, conv.Turns[1].Content).Contains("could not finish")
}

func TestChatWorkflowInjection(t *testing.T) {
	ctx := sessionCtx("user-1")

	report := &scriptedTool{
		desc: tool.Descriptor{
			Name: "get_report", Description: "Fetch the daily report", Core: true,
		},
		execute: func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			gt.Equal(t, args["period"], "daily")
			return &tool.Result{Content: "report body"}, nil
		},
	}

	registry := tool.NewRegistry()
	gt.NoError(t, registry.Register(report))

	workflowPath := filepath.Join(t.TempDir(), "workflows.yml")
	gt.NoError(t, os.WriteFile(workflowPath, []byte(`
workflows:
  - name: morning_report
    steps:
      - tool: get_report
        args:
          period: daily
        message: Fetching the morning report
`), 0600))

	router, err := workflow.New(ctx, "", workflowPath)
	gt.NoError(t, err)

	gemini := &fakeGemini{scripts: [][]*genai.GenerateContentResponse{
		{textResp("Your report is ready.")},
	}}

	svc := chat.New(gemini, newMemRepo(), adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}),
		chat.WithRouter(router))

	emit, events := collectEvents()
	resp, err := svc.Chat(ctx, &model.ChatRequest{
		Message:          "run my morning routine",
		SelectedWorkflow: "morning_report",
	}, emit)
	gt.NoError(t, err)
	svc.WaitRecorder()

	gt.Equal(t, report.callCount(), 1)
	gt.Equal(t, resp.Answer, "Your report is ready.")

	var progress *model.ToolProgress
	for _, ev := range *events {
		if ev.Kind == model.EventProgress {
			progress = ev.Progress
			break
		}
	}
	gt.V(t, progress).NotNil()
	gt.Equal(t, progress.Message, "Fetching the morning report")
}

func TestChatModelUnavailable(t *testing.T) {
	ctx := sessionCtx("user-1")

	registry := tool.NewRegistry()
	gemini := &fakeGemini{streamErr: goerr.New("backend down")}

	repo := newMemRepo()
	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}))

	req := &model.ChatRequest{RequestID: "req-err-1", Message: "hello"}
	_, err := svc.Chat(ctx, req, nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrModelUnavailable))

	// The failed turn is still recorded so the thread has no gap
	convs, err := repo.ListConversations(ctx, "user-1", 0, 10)
	gt.NoError(t, err)
	gt.A(t, convs).Length(1)
	gt.A(t, convs[0].Turns).Length(2)
	gt.S(t, convs[0].Turns[1].Content).Contains("went wrong")
}

func TestChatInterruptedAfterPartialAnswer(t *testing.T) {
	ctx := sessionCtx("user-1")

	registry := tool.NewRegistry()
	gemini := &fakeGemini{
		scripts:   [][]*genai.GenerateContentResponse{{textResp("Here is the start")}},
		streamErr: goerr.New("backend dropped mid-stream"),
	}

	repo := newMemRepo()
	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}))

	emit, events := collectEvents()
	resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "hello"}, emit)
	gt.NoError(t, err)
	svc.WaitRecorder()

	// The streamed text survives and the interruption is marked before
	// the stream closes
	gt.Equal(t, resp.Answer, "Here is the start")
	n := len(*events)
	gt.True(t, n >= 3)
	gt.Equal(t, (*events)[n-2].Kind, model.EventError)
	gt.Equal(t, (*events)[n-1].Kind, model.EventDone)

	conv, err := repo.GetConversation(ctx, resp.ConversationID)
	gt.NoError(t, err)
	gt.A(t, conv.Turns).Length(2)
	gt.Equal(t, conv.Turns[1].Content, "Here is the start")
}

func TestChatMemoryRecording(t *testing.T) {
	ctx := sessionCtx("user-1")

	registry := tool.NewRegistry()
	gemini := &fakeGemini{
		scripts: [][]*genai.GenerateContentResponse{
			{textResp("Nice, noted.")},
		},
		generated: "The user lives in Osaka",
	}

	repo := newMemRepo()
	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}))

	resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "I moved to Osaka"}, nil)
	gt.NoError(t, err)
	svc.WaitRecorder()

	memories, err := repo.SearchMemories(ctx, "user-1", nil, 10)
	gt.NoError(t, err)
	gt.A(t, memories).Length(1)
	gt.Equal(t, memories[0].Content, "The user lives in Osaka")
	gt.Equal(t, memories[0].ConversationID, resp.ConversationID)
}

func TestRecorderSkipsBlankExchange(t *testing.T) {
	ctx := sessionCtx("user-1")

	repo := newMemRepo()
	rec := chat.NewRecorder(&fakeGemini{generated: "The user likes tea"}, &fakeEmbedder{}, repo)

	rec.Record(ctx, "user-1", "conv-1", "   ", "an answer")
	rec.Record(ctx, "user-1", "conv-1", "a question", "\n\t")
	rec.Wait()

	memories, err := repo.SearchMemories(ctx, "user-1", nil, 10)
	gt.NoError(t, err)
	gt.A(t, memories).Length(0)
}

func TestSavePartial(t *testing.T) {
	ctx := sessionCtx("user-1")

	registry := tool.NewRegistry()
	gemini := &fakeGemini{scripts: [][]*genai.GenerateContentResponse{
		{textResp("full answer")},
	}}

	repo := newMemRepo()
	svc := chat.New(gemini, repo, adapter.NewMemoryCache(), registry, nil,
		chat.WithEmbedder(&fakeEmbedder{}))

	t.Run("stores the partial answer", func(t *testing.T) {
		id, err := svc.SavePartial(ctx, &model.ChatRequest{
			RequestID: "req-partial-1",
			Message:   "tell me a story",
		}, "Once upon a")
		gt.NoError(t, err)

		conv, err := repo.GetConversation(ctx, id)
		gt.NoError(t, err)
		gt.Equal(t, conv.Turns[1].Content, "Once upon a")
	})

	t.Run("duplicate of a completed turn is ignored", func(t *testing.T) {
		req := &model.ChatRequest{RequestID: "req-partial-2", Message: "hello"}

		resp, err := svc.Chat(ctx, req, nil)
		gt.NoError(t, err)
		svc.WaitRecorder()

		id, err := svc.SavePartial(ctx, req, "hel")
		gt.NoError(t, err)
		gt.Equal(t, id, resp.ConversationID)

		conv, err := repo.GetConversation(ctx, resp.ConversationID)
		gt.NoError(t, err)
		gt.A(t, conv.Turns).Length(2)
		gt.Equal(t, conv.Turns[1].Content, "full answer")
	})

	t.Run("empty partial is rejected", func(t *testing.T) {
		_, err := svc.SavePartial(ctx, &model.ChatRequest{
			RequestID: "req-partial-3",
			Message:   "hello",
		}, "")
		gt.Error(t, err)
	})
}
