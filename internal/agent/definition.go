package agent

import "slices"

// ModelTier is the capability/cost class an agent runs on. Backends map it
// to a concrete model or turn budget.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierBalanced ModelTier = "balanced"
	TierDeep     ModelTier = "deep"
)

func (t ModelTier) Valid() bool {
	switch t {
	case TierFast, TierBalanced, TierDeep:
		return true
	}
	return false
}

// Fixed roles of the review chain. Any other role label marks a producer.
const (
	RoleQA       = "QA"
	RoleGuardian = "Guardian"
)

// Definition describes one agent. Definitions are built once from the
// catalog and never mutated afterwards.
type Definition struct {
	ID                     string    `yaml:"id" json:"id"`
	Name                   string    `yaml:"name" json:"name"`
	Role                   string    `yaml:"role" json:"role"`
	Description            string    `yaml:"description" json:"description"`
	PromptTemplate         string    `yaml:"prompt_template" json:"prompt_template"`
	Tools                  []string  `yaml:"tools" json:"tools"`
	ModelTier              ModelTier `yaml:"model_tier" json:"model_tier"`
	PrimaryDeliverables    []string  `yaml:"primary_deliverables,omitempty" json:"primary_deliverables,omitempty"`
	SupportingDeliverables []string  `yaml:"supporting_deliverables,omitempty" json:"supporting_deliverables,omitempty"`
}

func (d *Definition) IsReviewer() bool {
	return d.Role == RoleQA || d.Role == RoleGuardian
}

func (d *Definition) IsProducer() bool {
	return !d.IsReviewer()
}

func (d *Definition) clone() *Definition {
	c := *d
	c.Tools = slices.Clone(d.Tools)
	c.PrimaryDeliverables = slices.Clone(d.PrimaryDeliverables)
	c.SupportingDeliverables = slices.Clone(d.SupportingDeliverables)
	return &c
}
