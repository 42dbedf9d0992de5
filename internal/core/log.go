package core

import "time"

// StepTag classifies a log entry within the run lifecycle. The log stream is
// dual-purpose: it is the observability feed and the durable substrate for
// resume. agent_complete entries carry handoff summaries; agent_crash entries
// carry the serialized conversation needed to continue a stage.
type StepTag string

const (
	StepInit          StepTag = "init"
	StepResolveAgents StepTag = "resolve_agents"
	StepCreateReport  StepTag = "create_report"
	StepAgentStart    StepTag = "agent_start"
	StepToolResolve   StepTag = "tool_resolve"
	StepLLMCall       StepTag = "llm_call"
	StepAgentComplete StepTag = "agent_complete"
	StepAgentCrash    StepTag = "agent_crash"
	StepAgentResume   StepTag = "agent_resume"
	StepCostLimit     StepTag = "cost_limit"
	StepPipeline      StepTag = "pipeline"
	StepComplete      StepTag = "complete"
	StepCrash         StepTag = "crash"
	StepTimeout       StepTag = "timeout"
)

// Metadata keys with structural meaning for resume.
const (
	MetaHandoffSummary = "handoff_summary"
	MetaOutput         = "output"
	MetaMessages       = "messages"
)

// LogEntry is an append-only record in a run's log stream. Entries are never
// mutated; ID is store-assigned and monotonically increasing per run.
type LogEntry struct {
	ID        int64          `json:"id"`
	RunID     RunID          `json:"run_id"`
	Level     string         `json:"level"`
	Step      StepTag        `json:"step"`
	AgentName string         `json:"agent_name,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LogFilter narrows log queries. Zero values match everything.
type LogFilter struct {
	Step      StepTag
	AgentName string
}

// Matches reports whether the entry satisfies the filter.
func (f LogFilter) Matches(e *LogEntry) bool {
	if f.Step != "" && e.Step != f.Step {
		return false
	}
	if f.AgentName != "" && e.AgentName != f.AgentName {
		return false
	}
	return true
}
