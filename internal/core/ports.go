package core

import "context"

// RunStore persists runs. UpdateRun must reject mutation of a completed or
// cancelled run; failed runs stay writable so they can be resumed.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id RunID) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context) ([]*Run, error)
}

// StageStore persists stage records, one per agent position of a run.
type StageStore interface {
	CreateStage(ctx context.Context, stage *StageRecord) error
	UpdateStage(ctx context.Context, stage *StageRecord) error
	ListStages(ctx context.Context, runID RunID) ([]*StageRecord, error)
}

// LogStore is the append-only run log. Entries are never updated or deleted;
// resume correctness depends on the full history being retained.
type LogStore interface {
	AppendLog(ctx context.Context, entry *LogEntry) error
	// QueryLogs returns entries matching the filter, newest first.
	QueryLogs(ctx context.Context, runID RunID, filter LogFilter) ([]*LogEntry, error)
}

// Store aggregates the persistence ports the engine needs.
type Store interface {
	RunStore
	StageStore
	LogStore
}

// Section is one addressable unit of report content.
type Section struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ReportSink is the external document sink. The engine never inspects report
// internals beyond these two calls.
type ReportSink interface {
	Create(ctx context.Context, title string) (string, error)
	WriteSections(ctx context.Context, reportID string, sections []Section) error
}

// ToolSpec describes a tool to the LLM provider.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GenerateRequest is one LLM call. Messages is the full conversation so far.
type GenerateRequest struct {
	Model        string     `json:"model"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Messages     []Message  `json:"messages"`
	Tools        []ToolSpec `json:"tools,omitempty"`
	// EnableCache requests provider prompt caching. Optimization only;
	// providers may ignore it.
	EnableCache bool `json:"enable_cache,omitempty"`
}

// GenerateResult is the provider's response to one call. Messages is the
// updated conversation including the new assistant turn.
type GenerateResult struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Messages  []Message  `json:"messages"`
}

// LLMProvider generates one assistant turn. Errors must be classifiable as
// retryable (rate limit, unavailable) or not via core.IsRetryable.
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ToolContext identifies the caller of a tool execution.
type ToolContext struct {
	RunID  RunID  `json:"run_id"`
	UserID string `json:"user_id,omitempty"`
}

// UsageLedger tracks cumulative LLM spend per run. Check is read-then-act:
// stages are sequential in practice, so a one-round overshoot under
// concurrent recording is accepted.
type UsageLedger interface {
	// Record accumulates usage for a run. Called once per LLM call.
	Record(ctx context.Context, runID RunID, usage Usage) error
	// Check reports whether cumulative cost reached the limit, and the
	// current total.
	Check(ctx context.Context, runID RunID, limit float64) (exceeded bool, total float64, err error)
}
