package mail

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
	"google.golang.org/genai"
)

const integrationID = "google_mail"

type composeInput struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Draft is the email_compose_data payload. Nothing is sent; the client
// shows the draft for the user to edit and send.
type Draft struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	From    string   `json:"from,omitempty"`
}

type mail struct{}

// New creates the mail composition tool
func New() tool.Tool {
	return &mail{}
}

func (x *mail) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:                "compose_email",
		Description:         "Draft an email with recipients, subject, and body for the user to review and send",
		Category:            "mail",
		RequiredIntegration: integrationID,
	}
}

func (x *mail) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "compose_email",
		Description: "Compose an email draft. The draft is shown to the user for confirmation and is never sent directly.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"to": {
					Type:        genai.TypeArray,
					Description: "Recipient email addresses",
					Items: &genai.Schema{
						Type: genai.TypeString,
					},
				},
				"subject": {
					Type:        genai.TypeString,
					Description: "Email subject line",
				},
				"body": {
					Type:        genai.TypeString,
					Description: "Email body text",
				},
			},
			Required: []string{"to", "subject", "body"},
		},
	}
}

func (x *mail) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	paramsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}

	var input composeInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if len(input.To) == 0 {
		return nil, goerr.New("at least one recipient is required")
	}
	if input.Subject == "" && input.Body == "" {
		return nil, goerr.New("subject or body is required")
	}

	draft := &Draft{
		To:      input.To,
		Subject: input.Subject,
		Body:    input.Body,
	}
	if session := model.SessionFrom(ctx); session != nil {
		draft.From = session.Email
	}

	resultJSON, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal draft")
	}

	return &tool.Result{
		Content: string(resultJSON),
		Data: map[string]any{
			model.KeyEmailComposeData: draft,
		},
	}, nil
}
