package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/usecase/chat"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
)

var errUnauthorized = goerr.New("authentication required")

// ChatUsecase is what the HTTP layer needs from the orchestration core
type ChatUsecase interface {
	Chat(ctx context.Context, req *model.ChatRequest, emit func(model.StreamEvent)) (*chat.Response, error)
	SavePartial(ctx context.Context, req *model.ChatRequest, partial string) (model.ConversationID, error)
}

// SessionResolver extracts the caller's session from a request. The
// server sits behind an authenticating proxy, so by default identity
// comes from trusted headers.
type SessionResolver func(r *http.Request) (*model.Session, error)

// Server exposes the chat service over HTTP with SSE streaming
type Server struct {
	usecase ChatUsecase
	repo    repository.Repository
	resolve SessionResolver
}

type Option func(*Server)

// WithSessionResolver overrides how sessions are extracted from requests
func WithSessionResolver(resolve SessionResolver) Option {
	return func(s *Server) {
		s.resolve = resolve
	}
}

// New creates the HTTP server
func New(usecase ChatUsecase, repo repository.Repository, opts ...Option) *Server {
	s := &Server{
		usecase: usecase,
		repo:    repo,
		resolve: headerSession,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/sync", s.handleChatSync)
	mux.HandleFunc("POST /api/chat/partial", s.handleSavePartial)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func headerSession(r *http.Request) (*model.Session, error) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		return nil, errUnauthorized
	}

	session := &model.Session{
		UserID:   model.UserID(userID),
		Email:    r.Header.Get("X-User-Email"),
		Timezone: r.Header.Get("X-User-Timezone"),
	}
	if v := r.Header.Get("X-User-Integrations"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				session.Integrations = append(session.Integrations, id)
			}
		}
	}
	return session, nil
}

// handleChat streams the turn as SSE frames. The stream is always
// terminated with a done marker, also on failure.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, req, ok := s.begin(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	mux := chat.NewMultiplexer(w)
	_, err := s.usecase.Chat(ctx, req, func(ev model.StreamEvent) {
		if werr := mux.Write(ev); werr != nil {
			logging.From(ctx).Warn("stream write failed", "error", werr)
		}
	})
	if err != nil {
		logging.From(ctx).Error("chat failed", "error", err)
		_ = mux.Abort("failed to process the request")
		return
	}

	if err := mux.Finish(); err != nil {
		logging.From(ctx).Warn("stream finish failed", "error", err)
	}
}

// handleChatSync runs the turn without streaming and returns the full
// answer as one JSON document.
func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	ctx, req, ok := s.begin(w, r)
	if !ok {
		return
	}

	resp, err := s.usecase.Chat(ctx, req, nil)
	if err != nil {
		logging.From(ctx).Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process the request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"response":        resp.Answer,
		"conversation_id": resp.ConversationID,
		"data":            resp.Data,
	})
}

type savePartialRequest struct {
	model.ChatRequest
	Partial string `json:"partial"`
}

// handleSavePartial persists what a disconnected client kept of an
// interrupted stream.
func (s *Server) handleSavePartial(w http.ResponseWriter, r *http.Request) {
	session, err := s.resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	ctx := model.WithSession(r.Context(), session)

	var req savePartialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.usecase.SavePartial(ctx, &req.ChatRequest, req.Partial)
	if err != nil {
		logging.From(ctx).Error("save partial failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save the message")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	session, err := s.resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	convs, err := s.repo.ListConversations(r.Context(), session.UserID, offset, limit)
	if err != nil {
		logging.From(r.Context()).Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	type item struct {
		ID        model.ConversationID `json:"id"`
		Title     string               `json:"title"`
		UpdatedAt string               `json:"updated_at"`
	}
	items := make([]item, 0, len(convs))
	for _, c := range convs {
		items = append(items, item{
			ID:        c.ID,
			Title:     c.Title,
			UpdatedAt: c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// begin resolves the session and decodes the chat request shared by the
// chat endpoints.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) (context.Context, *model.ChatRequest, bool) {
	session, err := s.resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, nil, false
	}

	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return nil, nil, false
	}

	return model.WithSession(r.Context(), session), &req, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
