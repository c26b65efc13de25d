package calendar

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
	"google.golang.org/genai"
)

const integrationID = "google_calendar"

type proposeInput struct {
	Title      string   `json:"title"`
	Candidates []string `json:"candidates"`
	Duration   int      `json:"duration_minutes"`
	Location   string   `json:"location"`
}

// EventOption is one entry of the calendar_options payload. The client
// renders options for the user to confirm before anything is created.
type EventOption struct {
	Title    string `json:"title"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
}

type calendar struct{}

// New creates the calendar scheduling tool
func New() tool.Tool {
	return &calendar{}
}

func (x *calendar) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:                "propose_event",
		Description:         "Propose calendar event options for scheduling meetings, appointments, and reminders",
		Category:            "calendar",
		RequiredIntegration: integrationID,
	}
}

func (x *calendar) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "propose_event",
		Description: "Build calendar event options from candidate start times. The user confirms one of them in the client.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title": {
					Type:        genai.TypeString,
					Description: "Event title",
				},
				"candidates": {
					Type:        genai.TypeArray,
					Description: "Candidate start times in RFC3339 format",
					Items: &genai.Schema{
						Type: genai.TypeString,
					},
				},
				"duration_minutes": {
					Type:        genai.TypeInteger,
					Description: "Event duration in minutes, default 60",
				},
				"location": {
					Type:        genai.TypeString,
					Description: "Optional event location",
				},
			},
			Required: []string{"title", "candidates"},
		},
	}
}

func (x *calendar) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	paramsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}

	var input proposeInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if input.Title == "" {
		return nil, goerr.New("title is required")
	}
	if len(input.Candidates) == 0 {
		return nil, goerr.New("at least one candidate time is required")
	}
	if input.Duration <= 0 {
		input.Duration = 60
	}

	options := make([]EventOption, 0, len(input.Candidates))
	for _, candidate := range input.Candidates {
		start, err := time.Parse(time.RFC3339, candidate)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid candidate time", goerr.V("candidate", candidate))
		}
		end := start.Add(time.Duration(input.Duration) * time.Minute)
		options = append(options, EventOption{
			Title:    input.Title,
			Start:    start.Format(time.RFC3339),
			End:      end.Format(time.RFC3339),
			Location: input.Location,
		})
	}

	resultJSON, err := json.MarshalIndent(options, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal options")
	}

	return &tool.Result{
		Content: string(resultJSON),
		Data: map[string]any{
			model.KeyCalendarOptions: options,
		},
	}, nil
}
