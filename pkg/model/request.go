package model

import "github.com/google/uuid"

// RawMessage is a role/content pair as submitted by the caller.
type RawMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FileRef points at an uploaded file attached to the current message.
type FileRef struct {
	ID       string `json:"fileId"`
	Name     string `json:"filename"`
	MIMEType string `json:"type,omitempty"`
}

// ChatRequest is the payload consumed by the orchestration core.
type ChatRequest struct {
	RequestID        string         `json:"request_id,omitempty"`
	Message          string         `json:"message"`
	ConversationID   ConversationID `json:"conversation_id,omitempty"`
	Messages         []RawMessage   `json:"messages,omitempty"`
	SelectedTool     string         `json:"selectedTool,omitempty"`
	SelectedWorkflow string         `json:"selectedWorkflow,omitempty"`
	FileIDs          []string       `json:"fileIds,omitempty"`
	FileData         []FileRef      `json:"fileData,omitempty"`
}

// NewRequestID generates a new unique request ID
func NewRequestID() string {
	return uuid.New().String()
}

// Session is the out-of-band caller context resolved by the auth layer.
// Integrations lists the external services the user has connected.
type Session struct {
	UserID       UserID
	Email        string
	AccessToken  string
	RefreshToken string
	Timezone     string
	Integrations []string
}

// HasIntegration reports whether the user has connected the given service
func (s *Session) HasIntegration(id string) bool {
	for _, v := range s.Integrations {
		if v == id {
			return true
		}
	}
	return false
}

// Preferences are user-level settings that shape the system preamble.
type Preferences struct {
	DisplayName   string `firestore:"display_name" json:"display_name,omitempty"`
	ResponseStyle string `firestore:"response_style" json:"response_style,omitempty"`
	Timezone      string `firestore:"timezone" json:"timezone,omitempty"`
}
