package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/repository"
	"github.com/m-mizutani/lapine/pkg/tool"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
	"google.golang.org/genai"
)

const (
	recorderTimeout = 30 * time.Second
	noFactSentinel  = "NONE"
)

const extractPrompt = `Extract one durable fact about the user from the exchange below, suitable for recalling in future conversations (a preference, a personal detail, a standing commitment). Reply with the fact as a single short sentence. If the exchange contains no such fact, reply with exactly NONE.`

// Recorder extracts durable user facts from finished turns and stores
// them as memories. Recording runs detached from the request and never
// surfaces failures to the caller.
type Recorder struct {
	gemini   adapter.Gemini
	embedder tool.Embedder
	repo     repository.Repository
	wg       sync.WaitGroup
}

// NewRecorder creates a memory recorder
func NewRecorder(gemini adapter.Gemini, embedder tool.Embedder, repo repository.Repository) *Recorder {
	return &Recorder{gemini: gemini, embedder: embedder, repo: repo}
}

// Record schedules fact extraction for a finished turn and returns
// immediately. The work runs on its own context so a closed request
// context does not cancel it. Turns with a blank side are skipped,
// there is nothing to extract from half an exchange.
func (r *Recorder) Record(ctx context.Context, userID model.UserID, conversationID model.ConversationID, message, answer string) {
	if strings.TrimSpace(message) == "" || strings.TrimSpace(answer) == "" {
		return
	}
	logger := logging.From(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		defer cancel()

		if err := r.record(ctx, userID, conversationID, message, answer); err != nil {
			logger.Warn("memory recording failed", "error", err, "user_id", userID)
		}
	}()
}

// Wait blocks until all scheduled recordings finish
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) record(ctx context.Context, userID model.UserID, conversationID model.ConversationID, message, answer string) error {
	prompt := extractPrompt + "\n\nUser:\n" + message + "\n\nAssistant:\n" + answer
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := r.gemini.GenerateContent(ctx, contents, nil)
	if err != nil {
		return err
	}

	fact := strings.TrimSpace(resp.Text())
	if fact == "" || fact == noFactSentinel {
		return nil
	}

	vector, err := r.embedder.Embed(ctx, fact)
	if err != nil {
		return err
	}

	now := time.Now()
	return r.repo.PutMemory(ctx, &model.Memory{
		ID:             model.NewMemoryID(),
		UserID:         userID,
		ConversationID: conversationID,
		Content:        fact,
		Embedding:      firestore.Vector32(vector),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}
