package chat

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/tool"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
	"github.com/m-mizutani/lapine/pkg/workflow"
	"google.golang.org/genai"
)

// retrievalLimit is how many retrievable tools join the core set per request
const retrievalLimit = 5

// Service orchestrates one chat turn: routing, the agent loop, tool
// execution, streaming, persistence, and memory recording.
type Service struct {
	gemini      adapter.Gemini
	repo        repository.Repository
	registry    *tool.Registry
	index       *tool.Index
	router      *workflow.Router
	checkpoints Checkpointer
	embedder    tool.Embedder

	assembler *Assembler
	persister *Persister
	recorder  *Recorder
	followup  *FollowUpper
}

type Option func(*Service)

// WithRouter sets the side-task router
func WithRouter(router *workflow.Router) Option {
	return func(x *Service) {
		x.router = router
	}
}

// WithClaude enables follow-up suggestions via the secondary model
func WithClaude(claude adapter.Claude) Option {
	return func(x *Service) {
		x.followup = NewFollowUpper(claude)
	}
}

// WithCheckpointer sets the thread checkpoint store
func WithCheckpointer(cp Checkpointer) Option {
	return func(x *Service) {
		x.checkpoints = cp
	}
}

// WithEmbedder overrides the embedder used for memory search and recording
func WithEmbedder(embedder tool.Embedder) Option {
	return func(x *Service) {
		x.embedder = embedder
	}
}

// New creates the chat service
func New(gemini adapter.Gemini, repo repository.Repository, cache adapter.Cache, registry *tool.Registry, index *tool.Index, opts ...Option) *Service {
	x := &Service{
		gemini:      gemini,
		repo:        repo,
		registry:    registry,
		index:       index,
		checkpoints: NewMemoryCheckpointer(),
		followup:    NewFollowUpper(nil),
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.embedder == nil {
		x.embedder = tool.NewGeminiEmbedder(gemini)
	}

	x.assembler = NewAssembler(repo, x.embedder)
	x.persister = NewPersister(repo, cache)
	x.recorder = NewRecorder(gemini, x.embedder, repo)

	return x
}

// Response is the outcome of a finished turn
type Response struct {
	ConversationID model.ConversationID
	Answer         string
	Data           map[string]any
}

// Chat runs one turn. Events stream to emit while the turn runs; the
// returned Response repeats the final answer and structured payloads.
// The caller's session must be in ctx.
func (x *Service) Chat(ctx context.Context, req *model.ChatRequest, emit func(model.StreamEvent)) (*Response, error) {
	session := model.SessionFrom(ctx)
	if session == nil {
		return nil, goerr.New("no user session")
	}
	if req.RequestID == "" {
		req.RequestID = model.NewRequestID()
	}

	logger := logging.From(ctx).With("request_id", req.RequestID)
	ctx = logging.With(ctx, logger)

	var history []*genai.Content
	if req.ConversationID != "" && x.checkpoints != nil {
		cp, err := x.checkpoints.Load(ctx, req.ConversationID)
		if err != nil {
			logger.Warn("checkpoint load failed", "error", err)
		} else if cp != nil {
			history = cp.Contents
		}
	}

	assembled, err := x.assembler.Assemble(ctx, AssembleInput{
		Request: req,
		Session: session,
		History: history,
	})
	if err != nil {
		return nil, err
	}

	st := NewState(req.RequestID, emit)
	st.ConversationID = req.ConversationID
	st.UserID = session.UserID
	st.Query = req.Message
	st.System = assembled.System
	st.Contents = assembled.Contents

	run := &runner{
		svc:     x,
		req:     req,
		session: session,
		tools:   x.selectTools(ctx, req.Message),
	}

	graph, err := run.graph()
	if err != nil {
		return nil, err
	}

	if err := graph.Run(ctx, st); err != nil {
		if st.Answer == "" {
			if _, serr := x.persister.SaveFailure(ctx, req, session); serr != nil {
				logger.Warn("failed to record failed turn", "error", serr)
			}
			return nil, err
		}
		// The partial answer already streamed; keep it rather than lose
		// the turn, but mark the interruption before the done event
		logger.Warn("run ended with error after partial answer", "error", err)
		st.Emit(model.NewErrorEvent("The response was interrupted before it finished."))
	}

	id, err := x.persister.Save(ctx, req, session, st.Answer, st.Data)
	if err != nil {
		logger.Error("failed to persist turn", "error", err)
	} else {
		st.ConversationID = id
	}

	x.recorder.Record(ctx, st.UserID, st.ConversationID, req.Message, st.Answer)
	st.Emit(model.NewDoneEvent())

	return &Response{
		ConversationID: st.ConversationID,
		Answer:         st.Answer,
		Data:           st.Data,
	}, nil
}

// SavePartial persists what a disconnected client received so far. The
// request ID deduplicates against a completed save of the same turn.
func (x *Service) SavePartial(ctx context.Context, req *model.ChatRequest, partial string) (model.ConversationID, error) {
	session := model.SessionFrom(ctx)
	if session == nil {
		return "", goerr.New("no user session")
	}
	if partial == "" {
		return "", goerr.New("partial message is required")
	}

	return x.persister.Save(ctx, req, session, partial, nil)
}

// WaitRecorder blocks until pending memory recordings finish
func (x *Service) WaitRecorder() {
	x.recorder.Wait()
}

// selectTools returns the tool set for one request: all core tools plus
// the most similar retrievable ones. When retrieval is unavailable the
// set degrades to core tools only.
func (x *Service) selectTools(ctx context.Context, query string) []tool.Tool {
	selected := append([]tool.Tool{}, x.registry.Core()...)

	if x.index == nil {
		return append(selected, x.registry.Retrievable()...)
	}

	names, err := x.index.Search(ctx, query, retrievalLimit)
	if err != nil {
		logging.From(ctx).Warn("tool retrieval degraded to core set", "error", err)
		return selected
	}

	for _, name := range names {
		if t, ok := x.registry.Get(name); ok && !t.Descriptor().Core {
			selected = append(selected, t)
		}
	}
	return selected
}
