package chat

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
)

// Flusher is implemented by writers that can push buffered frames to
// the client immediately, e.g. http.ResponseWriter behind SSE.
type Flusher interface {
	Flush()
}

// Multiplexer serializes stream events into wire frames on a single
// writer. Text deltas, progress notices, and structured payloads share
// the stream; the full answer is repeated in a trailing non-stream
// frame so clients that skip deltas still get the message.
type Multiplexer struct {
	mu       sync.Mutex
	w        io.Writer
	complete strings.Builder
	data     map[string]any
	closed   bool
}

// NewMultiplexer creates a multiplexer over w
func NewMultiplexer(w io.Writer) *Multiplexer {
	return &Multiplexer{
		w:    w,
		data: make(map[string]any),
	}
}

// Write encodes one event as a wire frame. Events after Finish or
// Abort are dropped.
func (m *Multiplexer) Write(ev model.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	switch ev.Kind {
	case model.EventText:
		m.complete.WriteString(ev.Text)
		return m.frame("data", map[string]any{"response": ev.Text})

	case model.EventProgress:
		return m.frame("data", map[string]any{"progress": ev.Progress})

	case model.EventData:
		m.data[ev.Key] = ev.Payload
		return m.frame("data", map[string]any{ev.Key: ev.Payload})

	case model.EventError:
		return m.frame("data", map[string]any{"error": ev.Text})

	default:
		return nil
	}
}

// Complete returns the accumulated answer text
func (m *Multiplexer) Complete() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete.String()
}

// Data returns the structured payloads seen so far, last write winning
// per key.
func (m *Multiplexer) Data() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Finish writes the trailing complete-message frame and the done
// marker, then seals the stream.
func (m *Multiplexer) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.frame("nostream", map[string]any{
		"complete_message": m.complete.String(),
	}); err != nil {
		return err
	}
	return m.done()
}

// Abort writes an error frame followed by the done marker. The stream
// is always terminated even when the run failed mid-way.
func (m *Multiplexer) Abort(message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.frame("data", map[string]any{"error": message}); err != nil {
		return err
	}
	return m.done()
}

func (m *Multiplexer) frame(prefix string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal stream frame")
	}
	if _, err := io.WriteString(m.w, prefix+": "+string(body)+"\n\n"); err != nil {
		return goerr.Wrap(err, "failed to write stream frame")
	}
	m.flush()
	return nil
}

func (m *Multiplexer) done() error {
	if _, err := io.WriteString(m.w, "data: [DONE]\n\n"); err != nil {
		return goerr.Wrap(err, "failed to write done marker")
	}
	m.flush()
	return nil
}

func (m *Multiplexer) flush() {
	if f, ok := m.w.(Flusher); ok {
		f.Flush()
	}
}
