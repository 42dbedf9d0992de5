package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunID uniquely identifies a run.
type RunID string

// NewRunID generates a fresh run identifier.
func NewRunID() RunID {
	return RunID("run-" + uuid.NewString())
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// TopologyPipeline is the only topology the engine executes. Other values
// (parallel, debate, hierarchical, round_robin) may be stored on a run but
// are rejected at execution time.
const TopologyPipeline = "pipeline"

// DeliverableReport is the deliverables key holding the report identity.
const DeliverableReport = "report"

// Run is one execution of a prompt through a team of agents.
type Run struct {
	ID           RunID             `json:"id"`
	Prompt       string            `json:"prompt"`
	Topology     string            `json:"topology"`
	Status       RunStatus         `json:"status"`
	CostLimit    *float64          `json:"cost_limit,omitempty"`
	Timeout      time.Duration     `json:"timeout"`
	Deliverables map[string]string `json:"deliverables,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// NewRun creates a pending run for the given prompt.
func NewRun(prompt string, timeout time.Duration) *Run {
	now := time.Now()
	return &Run{
		ID:        NewRunID(),
		Prompt:    prompt,
		Topology:  TopologyPipeline,
		Status:    RunStatusPending,
		Timeout:   timeout,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start transitions the run to running and clears results of any prior
// attempt. Resuming a failed run re-enters through here.
func (r *Run) Start() error {
	switch r.Status {
	case RunStatusPending, RunStatusRunning, RunStatusFailed:
	default:
		return fmt.Errorf("cannot start run in %s state", r.Status)
	}
	now := time.Now()
	r.Status = RunStatusRunning
	r.Error = ""
	r.CompletedAt = nil
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// Complete marks the run completed with its deliverables.
func (r *Run) Complete(deliverables map[string]string) {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.Deliverables = deliverables
	r.Error = ""
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// Fail marks the run failed with a human-readable reason.
func (r *Run) Fail(reason string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.Error = reason
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// Cancel marks the run cancelled. Cancellation is driven externally.
func (r *Run) Cancel(reason string) {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.Error = reason
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// IsTerminal reports whether the run reached a terminal state.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted ||
		r.Status == RunStatusFailed ||
		r.Status == RunStatusCancelled
}

// Duration returns the elapsed execution time.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt)
}

// Validate checks run invariants prior to execution.
func (r *Run) Validate() error {
	if r.ID == "" {
		return ErrValidation("RUN_ID_REQUIRED", "run ID cannot be empty")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrValidation("EMPTY_PROMPT", "run prompt cannot be empty")
	}
	if r.Timeout <= 0 {
		return ErrValidation("INVALID_TIMEOUT", "run timeout must be positive")
	}
	if r.CostLimit != nil && *r.CostLimit <= 0 {
		return ErrValidation("INVALID_COST_LIMIT", "cost limit must be positive when set")
	}
	if r.Topology != "" && r.Topology != TopologyPipeline {
		return ErrValidation("TOPOLOGY_NOT_IMPLEMENTED",
			fmt.Sprintf("topology %q is not implemented; only %q executes", r.Topology, TopologyPipeline))
	}
	return nil
}
