package workflow

import "github.com/moazbuilds/codemachine-orchestrator/internal/registry"

// stepEntry pairs a module step with its position in the (already
// track/condition-filtered) step list the index was built from.
type stepEntry struct {
	Step  Step
	Index int
}

// AgentIndex looks up a module step by its agent id, built on
// registry.BaseRegistry so the orchestrator's two agent-id lookups
// (template-load trigger validation, and the runner's trigger dispatch)
// share one lookup structure instead of each hand-rolling a map or a linear
// scan over the step list.
type AgentIndex struct {
	base *registry.BaseRegistry[stepEntry]
}

// NewAgentIndex builds an index over a step list's module steps, keyed by
// AgentID. The first step declared under a given agent id wins; later
// duplicates are ignored, matching how SubAgentIDs dedupes at template
// load.
func NewAgentIndex(steps []Step) *AgentIndex {
	base := registry.NewBaseRegistry[stepEntry]()
	for i, s := range steps {
		if s.Kind != StepKindModule || s.AgentID == "" {
			continue
		}
		_ = base.Register(s.AgentID, stepEntry{Step: s, Index: i})
	}
	return &AgentIndex{base: base}
}

// Lookup returns the module step registered under agentID, if any.
func (a *AgentIndex) Lookup(agentID string) (Step, int, bool) {
	e, ok := a.base.Get(agentID)
	return e.Step, e.Index, ok
}

// Has reports whether agentID names a known step, used to validate a
// trigger Behavior's target at template-load time.
func (a *AgentIndex) Has(agentID string) bool {
	_, ok := a.base.Get(agentID)
	return ok
}

// AgentIDs returns every indexed agent id, in no particular order.
func (a *AgentIndex) AgentIDs() []string {
	entries := a.base.List()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Step.AgentID)
	}
	return ids
}
