package workflow

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
	"github.com/m-mizutani/lapine/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
)

// SideTask is a forced tool call injected before the agent loop
type SideTask struct {
	Tool    string
	Args    map[string]any
	Message string
}

// Decision is the routing outcome for a request
type Decision struct {
	SideTasks []SideTask
}

// Router decides deterministic side tasks for incoming requests. Named
// workflows are resolved first; an optional Rego policy can add more.
type Router struct {
	routePolicy *rego.PreparedEvalQuery
	workflows   map[string]*Definition
}

// New creates a Router from a policy directory and a workflow file.
// Both are optional; an empty Router makes no injections.
func New(ctx context.Context, policyDir, workflowPath string) (*Router, error) {
	policy, err := loadRoutePolicy(ctx, policyDir)
	if err != nil {
		return nil, err
	}

	workflows, err := LoadWorkflows(workflowPath)
	if err != nil {
		return nil, err
	}

	return &Router{
		routePolicy: policy,
		workflows:   workflows,
	}, nil
}

// Route evaluates the request and returns the side tasks to inject.
// An unknown selected workflow is an error; policy evaluation failures
// are logged and skipped so a broken policy cannot block chat.
func (r *Router) Route(ctx context.Context, req *model.ChatRequest) (*Decision, error) {
	decision := &Decision{}

	if req.SelectedWorkflow != "" {
		def, ok := r.workflows[req.SelectedWorkflow]
		if !ok {
			return nil, goerr.New("unknown workflow", goerr.V("name", req.SelectedWorkflow))
		}
		for _, step := range def.Steps {
			decision.SideTasks = append(decision.SideTasks, SideTask{
				Tool:    step.Tool,
				Args:    step.Args,
				Message: step.Message,
			})
		}
	}

	if r.routePolicy != nil {
		tasks, err := r.evalPolicy(ctx, req)
		if err != nil {
			logging.From(ctx).Warn("route policy evaluation failed", "error", err)
		} else {
			decision.SideTasks = append(decision.SideTasks, tasks...)
		}
	}

	return decision, nil
}

func (r *Router) evalPolicy(ctx context.Context, req *model.ChatRequest) ([]SideTask, error) {
	input := map[string]any{
		"message":           req.Message,
		"selected_tool":     req.SelectedTool,
		"selected_workflow": req.SelectedWorkflow,
		"file_count":        len(req.FileIDs) + len(req.FileData),
	}

	rs, err := r.routePolicy.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate route policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, nil
	}

	taskData, ok := data["side_task"]
	if !ok {
		return nil, nil
	}

	rawTasks, ok := taskData.([]any)
	if !ok {
		return nil, goerr.New("invalid route result: side_task is not an array")
	}

	var tasks []SideTask
	for _, raw := range rawTasks {
		taskMap, ok := raw.(map[string]any)
		if !ok {
			return nil, goerr.New("invalid side task in route result")
		}

		task := SideTask{
			Tool:    getString(taskMap, "tool"),
			Message: getString(taskMap, "message"),
		}
		if task.Tool == "" {
			return nil, goerr.New("side task tool is required")
		}
		if args, ok := taskMap["args"].(map[string]any); ok {
			task.Args = args
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
