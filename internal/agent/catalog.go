package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Agents []*Definition `yaml:"agents"`
}

// LoadCatalog reads agent definitions from a YAML file with a top level
// "agents" list.
func LoadCatalog(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agent catalog: %w", err)
	}
	return f.Agents, nil
}

// LoadRegistry builds a registry from path, or from DefaultCatalog when
// path is empty.
func LoadRegistry(path string) (*Registry, error) {
	defs := DefaultCatalog()
	if path != "" {
		var err error
		if defs, err = LoadCatalog(path); err != nil {
			return nil, err
		}
	}
	return NewRegistry(defs)
}

const reviewerFormat = `
Reply with your decision in this exact format:
VERDICT: accept|reject
FEEDBACK: <one paragraph>
REQUIRED_CHANGES:
- <change>
Leave REQUIRED_CHANGES empty when you accept.`

// DefaultCatalog is the built-in agent set used when no catalog file is
// configured.
func DefaultCatalog() []*Definition {
	readOnly := []string{"Read", "Glob", "Grep"}
	writer := []string{"Read", "Glob", "Grep", "Write", "Edit"}
	return []*Definition{
		{
			ID:          "architect",
			Name:        "Architect",
			Role:        "Architect",
			Description: "Turns the specification into a component design and interface contracts.",
			PromptTemplate: `You are {{.Agent.Name}}, the architect of this project.
Produce the design deliverables for task {{.Task.ID}}: components, their responsibilities and the interfaces between them.
Stay within the documented scope.`,
			Tools:                  writer,
			ModelTier:              TierDeep,
			PrimaryDeliverables:    []string{"ARCHITECTURE.md"},
			SupportingDeliverables: []string{"ADR.md"},
		},
		{
			ID:          "backend-engineer",
			Name:        "Backend Engineer",
			Role:        "Backend",
			Description: "Implements server side code, storage and APIs.",
			PromptTemplate: `You are {{.Agent.Name}}. Implement task {{.Task.ID}} on the server side.
Follow the architecture document and keep changes limited to what the task asks for.`,
			Tools:                  append(append([]string{}, writer...), "Bash(go test *)", "Bash(go build *)", "Bash(git diff *)"),
			ModelTier:              TierBalanced,
			PrimaryDeliverables:    []string{"API.md"},
			SupportingDeliverables: []string{"SCHEMA.md"},
		},
		{
			ID:          "frontend-engineer",
			Name:        "Frontend Engineer",
			Role:        "Frontend",
			Description: "Implements user facing views against the documented API.",
			PromptTemplate: `You are {{.Agent.Name}}. Implement task {{.Task.ID}} in the user interface.
Only consume API endpoints that are documented.`,
			Tools:                  append(append([]string{}, writer...), "Bash(npm test *)", "Bash(npm run lint*)"),
			ModelTier:              TierBalanced,
			PrimaryDeliverables:    []string{"UI.md"},
			SupportingDeliverables: []string{"COMPONENTS.md"},
		},
		{
			ID:          "tech-writer",
			Name:        "Technical Writer",
			Role:        "Docs",
			Description: "Writes user and operator documentation from accepted deliverables.",
			PromptTemplate: `You are {{.Agent.Name}}. Write the documentation requested by task {{.Task.ID}}.
Describe only behavior present in the accepted deliverables.`,
			Tools:               writer,
			ModelTier:           TierFast,
			PrimaryDeliverables: []string{"README.md"},
		},
		{
			ID:          "qa-reviewer",
			Name:        "QA Reviewer",
			Role:        RoleQA,
			Description: "Checks producer output for correctness and quality.",
			PromptTemplate: `You are {{.Agent.Name}}. Review the output produced for task {{.Task.ID}} for correctness, completeness and quality.` +
				reviewerFormat,
			Tools:     readOnly,
			ModelTier: TierBalanced,
		},
		{
			ID:          "scope-guardian",
			Name:        "Scope Guardian",
			Role:        RoleGuardian,
			Description: "Final authority on scope: rejects anything outside the documented task and specification.",
			PromptTemplate: `You are {{.Agent.Name}}. Decide whether the output for task {{.Task.ID}} stays within the documented scope.
The QA verdict is provided for reference; judge scope independently of quality.` +
				reviewerFormat,
			Tools:     readOnly,
			ModelTier: TierDeep,
		},
	}
}
