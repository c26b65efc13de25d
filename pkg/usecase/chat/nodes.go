package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/tool"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
	"google.golang.org/genai"
)

const (
	nodeRoute    = "route"
	nodeInject   = "inject"
	nodeAgent    = "agent"
	nodeTools    = "tools"
	nodeFollowUp = "follow_up"
	nodeTrim     = "trim"
)

// maxToolSteps bounds agent/tools round trips per request
const maxToolSteps = 20

const recursionApology = "I could not finish this request within a reasonable number of steps. Here is what I have so far; please narrow the request and try again."

// runner holds the per-request execution context. Its methods are the
// graph nodes.
type runner struct {
	svc     *Service
	req     *model.ChatRequest
	session *model.Session
	tools   []tool.Tool
}

func (r *runner) graph() (*Graph, error) {
	return NewBuilder().
		AddNode(nodeRoute, r.route).
		AddNode(nodeInject, r.inject).
		AddNode(nodeAgent, r.agent).
		AddNode(nodeTools, r.execTools).
		AddNode(nodeFollowUp, r.followUp).
		AddNode(nodeTrim, r.trim).
		SetStart(nodeRoute).
		AddEdge(nodeRoute, nodeInject).
		AddEdge(nodeRoute, nodeAgent).
		AddEdge(nodeInject, nodeAgent).
		AddEdge(nodeAgent, nodeTools).
		AddEdge(nodeAgent, nodeFollowUp).
		AddEdge(nodeTools, nodeAgent).
		AddEdge(nodeFollowUp, nodeTrim).
		Compile()
}

// route resolves deterministic side tasks before the agent loop starts
func (r *runner) route(ctx context.Context, st *State) (string, error) {
	if r.svc.router == nil {
		return nodeAgent, nil
	}

	decision, err := r.svc.router.Route(ctx, r.req)
	if err != nil {
		return "", goerr.Wrap(err, "routing failed")
	}

	st.SideTasks = decision.SideTasks
	if len(st.SideTasks) == 0 {
		return nodeAgent, nil
	}
	return nodeInject, nil
}

// inject executes forced side tasks and records them in the thread as
// call/response pairs so the model sees their results as prior context.
func (r *runner) inject(ctx context.Context, st *State) (string, error) {
	logger := logging.From(ctx)

	for _, task := range st.SideTasks {
		call := genai.FunctionCall{Name: task.Tool, Args: task.Args}

		message := task.Message
		if message == "" {
			message = "Running " + task.Tool
		}
		st.Emit(model.NewProgressEvent(message, task.Tool, r.svc.registry.CategoryOf(task.Tool)))

		response := r.runTool(ctx, st, call)

		st.Contents = append(st.Contents,
			&genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{FunctionCall: &call},
			}},
			&genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{
				{FunctionResponse: response},
			}},
		)
		logger.Debug("side task executed", "tool", task.Tool)
	}

	st.SideTasks = nil
	return nodeAgent, nil
}

// agent streams one model response. Text deltas go to the consumer as
// they arrive; pending function calls hand off to the tools node.
func (r *runner) agent(ctx context.Context, st *State) (string, error) {
	if st.Depth >= maxToolSteps {
		logging.From(ctx).Warn("tool step limit reached",
			"error", model.ErrRecursionLimit, "depth", st.Depth)
		st.EmitText(recursionApology)
		return nodeFollowUp, nil
	}

	config := &genai.GenerateContentConfig{
		Tools: tool.Specs(r.tools),
	}
	if st.System != "" {
		config.SystemInstruction = genai.NewContentFromText(st.System, genai.RoleUser)
	}

	var text strings.Builder
	var calls []*genai.FunctionCall

	for resp, err := range r.svc.gemini.GenerateStream(ctx, st.Contents, config) {
		if err != nil {
			return "", goerr.Wrap(model.ErrModelUnavailable, "stream failed",
				goerr.V("cause", err.Error()))
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
					st.EmitText(part.Text)
				}
				if part.FunctionCall != nil {
					calls = append(calls, part.FunctionCall)
				}
			}
		}
	}

	// Record what the model produced so the thread stays replayable
	var parts []*genai.Part
	if text.Len() > 0 {
		parts = append(parts, &genai.Part{Text: text.String()})
	}
	for _, call := range calls {
		parts = append(parts, &genai.Part{FunctionCall: call})
	}
	if len(parts) > 0 {
		st.Contents = append(st.Contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
	}

	if len(calls) > 0 {
		st.PendingCalls = calls
		return nodeTools, nil
	}
	return nodeFollowUp, nil
}

// execTools runs all pending calls and appends their responses as a
// single user content. Calls dispatch in parallel but responses keep
// request order.
func (r *runner) execTools(ctx context.Context, st *State) (string, error) {
	calls := st.PendingCalls
	st.PendingCalls = nil

	for _, call := range calls {
		st.Emit(model.NewProgressEvent("Running "+call.Name, call.Name,
			r.svc.registry.CategoryOf(call.Name)))
	}

	responses := make([]*genai.FunctionResponse, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = r.runTool(ctx, st, *call)
		}()
	}
	wg.Wait()

	parts := make([]*genai.Part, 0, len(responses))
	for _, resp := range responses {
		parts = append(parts, &genai.Part{FunctionResponse: resp})
	}
	st.Contents = append(st.Contents, &genai.Content{Role: genai.RoleUser, Parts: parts})

	st.Depth++
	return nodeAgent, nil
}

// runTool executes one call and maps any failure to an error response
// the model can read. Missing integrations additionally surface a
// structured payload so the client can start the connect flow.
func (r *runner) runTool(ctx context.Context, st *State, call genai.FunctionCall) *genai.FunctionResponse {
	logger := logging.From(ctx)

	result, err := r.svc.registry.Execute(ctx, call)
	if err != nil {
		if errors.Is(err, model.ErrIntegrationRequired) {
			integration := model.IntegrationFrom(err)
			st.EmitData(model.KeyIntegrationInfo, map[string]any{
				"integration": integration,
				"tool":        call.Name,
			})
			logger.Info("tool blocked on integration",
				"tool", call.Name, "integration", integration)
		} else {
			logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		}
		return &genai.FunctionResponse{
			Name:     call.Name,
			Response: map[string]any{"error": err.Error()},
		}
	}

	for key, payload := range result.Data {
		st.EmitData(key, payload)
	}

	return &genai.FunctionResponse{
		Name:     call.Name,
		Response: map[string]any{"result": result.Content},
	}
}

// followUp proposes next actions once the answer is complete
func (r *runner) followUp(ctx context.Context, st *State) (string, error) {
	if actions := r.svc.followup.Suggest(ctx, st.Query, st.Answer); len(actions) > 0 {
		st.EmitData(model.KeyFollowUpActions, actions)
	}
	return nodeTrim, nil
}

// trimBudget caps the serialized thread size carried into the next turn
const trimBudget = 64 * 1024

// trim prunes the working thread to the byte budget and saves it as the
// next turn's checkpoint. Checkpoint failures are logged, not fatal.
func (r *runner) trim(ctx context.Context, st *State) (string, error) {
	st.Contents = pruneContents(st.Contents, trimBudget)

	if st.ConversationID != "" && r.svc.checkpoints != nil {
		cp := &Checkpoint{
			ConversationID: st.ConversationID,
			Contents:       st.Contents,
			UpdatedAt:      st.Now,
		}
		if err := r.svc.checkpoints.Save(ctx, cp); err != nil {
			logging.From(ctx).Warn("checkpoint save failed", "error", err)
		}
	}

	return End, nil
}

// pruneContents drops the oldest contents until the thread fits the
// byte budget. The most recent content always survives.
func pruneContents(contents []*genai.Content, budget int) []*genai.Content {
	sizes := make([]int, len(contents))
	total := 0
	for i, c := range contents {
		sizes[i] = contentSize(c)
		total += sizes[i]
	}

	drop := 0
	for drop < len(contents)-1 && total > budget {
		total -= sizes[drop]
		drop++
	}
	return contents[drop:]
}

func contentSize(c *genai.Content) int {
	size := 0
	for _, p := range c.Parts {
		size += len(p.Text)
		if p.FunctionCall != nil {
			size += len(p.FunctionCall.Name) + 64
		}
		if p.FunctionResponse != nil {
			size += len(p.FunctionResponse.Name) + 256
		}
	}
	return size
}
