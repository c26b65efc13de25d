package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
)

const (
	titleMaxLen      = 60
	dedupeWindow     = time.Hour
	conversationKey  = "conversation:"
	errSavedResponse = "Sorry, something went wrong while answering. Please try again."
)

// Persister writes the finished turn pair to the repository at most
// once per request ID. Streaming retries on the same request ID reuse
// the first save instead of duplicating turns.
type Persister struct {
	repo  repository.Repository
	cache adapter.Cache

	mu   sync.Mutex
	seen map[string]savedRequest
}

type savedRequest struct {
	conversationID model.ConversationID
	at             time.Time
}

// NewPersister creates a persister
func NewPersister(repo repository.Repository, cache adapter.Cache) *Persister {
	return &Persister{
		repo:  repo,
		cache: cache,
		seen:  make(map[string]savedRequest),
	}
}

// Save persists the user turn and the assistant turn. A request ID that
// already saved returns the conversation ID of the first save without
// touching the repository again.
func (p *Persister) Save(ctx context.Context, req *model.ChatRequest, session *model.Session, answer string, data map[string]any) (model.ConversationID, error) {
	if req.RequestID != "" {
		p.mu.Lock()
		if prev, ok := p.seen[req.RequestID]; ok {
			p.mu.Unlock()
			logging.From(ctx).Info("duplicate save suppressed",
				"request_id", req.RequestID, "conversation_id", prev.conversationID)
			return prev.conversationID, nil
		}
		p.mu.Unlock()
	}

	now := time.Now()
	turns := []model.Turn{
		{
			Role:      model.RoleUser,
			Content:   req.Message,
			FileIDs:   req.FileIDs,
			CreatedAt: now,
		},
		{
			Role:      model.RoleAssistant,
			Content:   answer,
			ToolData:  data,
			CreatedAt: now,
		},
	}

	id := req.ConversationID
	if id == "" {
		id = model.NewConversationID()
		conv := &model.Conversation{
			ID:        id,
			UserID:    session.UserID,
			Title:     titleFrom(req.Message),
			Turns:     turns,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := p.repo.PutConversation(ctx, conv); err != nil {
			return "", goerr.Wrap(err, "failed to create conversation", goerr.V("id", id))
		}
	} else {
		if err := p.repo.AppendTurns(ctx, id, turns...); err != nil {
			return "", goerr.Wrap(err, "failed to append turns", goerr.V("id", id))
		}
	}

	p.cache.Delete(ctx, conversationKey+string(id))
	p.markSaved(req.RequestID, id, now)

	return id, nil
}

// SaveFailure records the user turn with an apology so the thread stays
// consistent when the run failed before producing an answer.
func (p *Persister) SaveFailure(ctx context.Context, req *model.ChatRequest, session *model.Session) (model.ConversationID, error) {
	return p.Save(ctx, req, session, errSavedResponse, nil)
}

func (p *Persister) markSaved(requestID string, id model.ConversationID, now time.Time) {
	if requestID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seen[requestID] = savedRequest{conversationID: id, at: now}
	for rid, rec := range p.seen {
		if now.Sub(rec.at) > dedupeWindow {
			delete(p.seen, rid)
		}
	}
}

func titleFrom(message string) string {
	title := message
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if utf8.RuneCountInString(title) > titleMaxLen {
		runes := []rune(title)
		title = string(runes[:titleMaxLen])
	}
	return title
}
