package chat

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/adapter"
	"github.com/m-mizutani/lapine/pkg/model"
	"google.golang.org/genai"
)

// Checkpoint is the pruned model thread saved after a turn so the next
// turn does not rebuild the full thread from stored turns.
type Checkpoint struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	Contents       []*genai.Content     `json:"contents"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Checkpointer stores checkpoints keyed by conversation id. Load
// returns nil without error when no checkpoint exists.
type Checkpointer interface {
	Load(ctx context.Context, id model.ConversationID) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
}

// MemoryCheckpointer keeps checkpoints in process memory
type MemoryCheckpointer struct {
	mu          sync.RWMutex
	checkpoints map[model.ConversationID]*Checkpoint
}

// NewMemoryCheckpointer creates an in-process Checkpointer
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{
		checkpoints: make(map[model.ConversationID]*Checkpoint),
	}
}

func (c *MemoryCheckpointer) Load(ctx context.Context, id model.ConversationID) (*Checkpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkpoints[id], nil
}

func (c *MemoryCheckpointer) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ConversationID == "" {
		return goerr.New("conversation ID is required")
	}
	c.mu.Lock()
	c.checkpoints[cp.ConversationID] = cp
	c.mu.Unlock()
	return nil
}

// StorageCheckpointer persists checkpoints as JSON blobs in Cloud Storage
type StorageCheckpointer struct {
	storage adapter.Storage
}

// NewStorageCheckpointer creates a Checkpointer backed by blob storage
func NewStorageCheckpointer(storage adapter.Storage) *StorageCheckpointer {
	return &StorageCheckpointer{storage: storage}
}

func checkpointKey(id model.ConversationID) string {
	return "checkpoints/" + string(id) + ".json"
}

func (c *StorageCheckpointer) Load(ctx context.Context, id model.ConversationID) (*Checkpoint, error) {
	reader, err := c.storage.Get(ctx, checkpointKey(id))
	if err != nil {
		// A missing blob is not an error; the caller rebuilds from turns
		return nil, nil
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read checkpoint", goerr.V("id", id))
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal checkpoint", goerr.V("id", id))
	}

	return &cp, nil
}

func (c *StorageCheckpointer) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ConversationID == "" {
		return goerr.New("conversation ID is required")
	}

	writer, err := c.storage.Put(ctx, checkpointKey(cp.ConversationID))
	if err != nil {
		return goerr.Wrap(err, "failed to create checkpoint writer")
	}

	data, err := json.Marshal(cp)
	if err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to marshal checkpoint")
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write checkpoint")
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close checkpoint writer")
	}

	return nil
}
