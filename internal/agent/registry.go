package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kazz187/reviewguild/pkg/cerr"
)

var ErrUnknownAgent = errors.New("unknown agent")

// Registry is the read-only agent catalog of a process. All methods are
// safe for concurrent use because nothing is written after NewRegistry.
type Registry struct {
	byID      map[string]*Definition
	producers []*Definition
	reviewer  *Definition
	guardian  *Definition
	all       []*Definition
}

// NewRegistry validates defs and builds the lookup tables. Definitions are
// copied so later changes to defs do not leak into the registry.
func NewRegistry(defs []*Definition) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Definition, len(defs))}
	var problems []string
	for i, src := range defs {
		if src == nil {
			problems = append(problems, fmt.Sprintf("agent #%d is empty", i))
			continue
		}
		d := src.clone()
		switch {
		case d.ID == "":
			problems = append(problems, fmt.Sprintf("agent #%d: id cannot be empty", i))
			continue
		case r.byID[d.ID] != nil:
			problems = append(problems, fmt.Sprintf("duplicate agent id: %s", d.ID))
			continue
		}
		if !d.ModelTier.Valid() {
			problems = append(problems, fmt.Sprintf("agent %s: invalid model tier %q", d.ID, d.ModelTier))
		}
		if strings.TrimSpace(d.PromptTemplate) == "" {
			problems = append(problems, fmt.Sprintf("agent %s: prompt template cannot be empty", d.ID))
		}
		switch d.Role {
		case RoleQA:
			if r.reviewer != nil {
				problems = append(problems, fmt.Sprintf("agent %s: only one %s agent is allowed (already %s)", d.ID, RoleQA, r.reviewer.ID))
			}
			r.reviewer = d
		case RoleGuardian:
			if r.guardian != nil {
				problems = append(problems, fmt.Sprintf("agent %s: only one %s agent is allowed (already %s)", d.ID, RoleGuardian, r.guardian.ID))
			}
			r.guardian = d
		default:
			r.producers = append(r.producers, d)
		}
		r.byID[d.ID] = d
		r.all = append(r.all, d)
	}
	if r.reviewer == nil {
		problems = append(problems, "catalog has no "+RoleQA+" agent")
	}
	if r.guardian == nil {
		problems = append(problems, "catalog has no "+RoleGuardian+" agent")
	}
	if len(r.producers) == 0 {
		problems = append(problems, "catalog has no producer agents")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid agent catalog: %s", strings.Join(problems, "; "))
	}
	return r, nil
}

func (r *Registry) GetAgentByID(id string) (*Definition, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("agent %q not found", id), fmt.Errorf("%w: %s", ErrUnknownAgent, id))
	}
	return d, nil
}

// GetProducerAgents returns every non-reviewing agent in catalog order.
func (r *Registry) GetProducerAgents() []*Definition {
	return append([]*Definition(nil), r.producers...)
}

func (r *Registry) GetReviewerAgent() *Definition {
	return r.reviewer
}

func (r *Registry) GetGuardianAgent() *Definition {
	return r.guardian
}

// All returns every agent in catalog order.
func (r *Registry) All() []*Definition {
	return append([]*Definition(nil), r.all...)
}
