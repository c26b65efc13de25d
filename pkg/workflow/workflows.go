package workflow

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Step is one forced tool call of a named workflow
type Step struct {
	Tool    string         `yaml:"tool"`
	Args    map[string]any `yaml:"args"`
	Message string         `yaml:"message"`
}

// Definition is a named sequence of forced tool calls. A request that
// selects a workflow has its steps injected before the agent loop.
type Definition struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

type workflowFile struct {
	Workflows []*Definition `yaml:"workflows"`
}

// LoadWorkflows reads named workflow definitions from a YAML file
func LoadWorkflows(path string) (map[string]*Definition, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read workflow file", goerr.V("path", path))
	}

	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse workflow file", goerr.V("path", path))
	}

	workflows := make(map[string]*Definition, len(file.Workflows))
	for _, def := range file.Workflows {
		if def.Name == "" {
			return nil, goerr.New("workflow name is required")
		}
		if _, exists := workflows[def.Name]; exists {
			return nil, goerr.New("duplicate workflow name", goerr.V("name", def.Name))
		}
		for _, step := range def.Steps {
			if step.Tool == "" {
				return nil, goerr.New("workflow step tool is required", goerr.V("workflow", def.Name))
			}
		}
		workflows[def.Name] = def
	}

	return workflows, nil
}
