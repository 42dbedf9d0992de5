package core

import (
	"fmt"
	"sort"
)

// ToolTargetKind distinguishes the backends a tool can dispatch to.
type ToolTargetKind string

const (
	ToolTargetBuiltin ToolTargetKind = "builtin"
	ToolTargetRemote  ToolTargetKind = "remote"
)

// ToolBinding declares one tool available to an agent. The binding is
// resolved to a concrete dispatch target once, when the agent's tool list is
// built, not re-dispatched by string match on every call.
type ToolBinding struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        ToolTargetKind `json:"kind" yaml:"kind"`
	// Endpoint is the remote execution URL for remote tools.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// AgentDefinition is a read-only description of one configured agent.
type AgentDefinition struct {
	Name          string            `json:"name" yaml:"name"`
	SystemPrompt  string            `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Backstory     string            `json:"backstory,omitempty" yaml:"backstory,omitempty"`
	Opinions      map[string]string `json:"opinions,omitempty" yaml:"opinions,omitempty"`
	Strategy      string            `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Model         string            `json:"model" yaml:"model"`
	Tools         []ToolBinding     `json:"tools,omitempty" yaml:"tools,omitempty"`
	MaxIterations int               `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

// SortedOpinionKeys returns opinion keys in deterministic order for prompt
// assembly.
func (a *AgentDefinition) SortedOpinionKeys() []string {
	keys := make([]string, 0, len(a.Opinions))
	for k := range a.Opinions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TeamMember is one (agent, role, position) entry in a team.
type TeamMember struct {
	Agent    AgentDefinition `json:"agent" yaml:"agent"`
	Role     string          `json:"role" yaml:"role"`
	Position int             `json:"position" yaml:"position"`
}

// Team is an ordered list of agents driven through the pipeline.
type Team struct {
	Name    string       `json:"name" yaml:"name"`
	Members []TeamMember `json:"members" yaml:"members"`
}

// OrderedMembers returns members sorted by position.
func (t *Team) OrderedMembers() []TeamMember {
	members := make([]TeamMember, len(t.Members))
	copy(members, t.Members)
	sort.Slice(members, func(i, j int) bool {
		return members[i].Position < members[j].Position
	})
	return members
}

// Validate checks team invariants: at least one member and contiguous
// positions from 0.
func (t *Team) Validate() error {
	if len(t.Members) == 0 {
		return ErrValidation("NO_TEAM_MEMBERS", "team has no members assigned")
	}
	seen := make(map[int]string, len(t.Members))
	for _, m := range t.Members {
		if m.Agent.Name == "" {
			return ErrValidation("AGENT_NAME_REQUIRED", "team member agent name cannot be empty")
		}
		if prev, dup := seen[m.Position]; dup {
			return ErrValidation("DUPLICATE_POSITION",
				fmt.Sprintf("position %d assigned to both %q and %q", m.Position, prev, m.Agent.Name))
		}
		seen[m.Position] = m.Agent.Name
	}
	for pos := 0; pos < len(t.Members); pos++ {
		if _, ok := seen[pos]; !ok {
			return ErrValidation("POSITION_GAP",
				fmt.Sprintf("team positions must be contiguous from 0, missing %d", pos))
		}
	}
	return nil
}

// HandoffEntry is one completed stage's contribution to downstream context.
type HandoffEntry struct {
	AgentName string `json:"agent_name"`
	Role      string `json:"role"`
	Summary   string `json:"summary"`
}

// HandoffContext threads prior stage outputs into the next stage. It is
// transient: reconstructed from persisted handoff summaries on resume and
// carried in memory within a single orchestrator invocation.
type HandoffContext struct {
	Prompt   string
	Prior    []HandoffEntry
	ReportID string
}
