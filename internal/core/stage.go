package core

import (
	"fmt"
	"time"
)

// StageStatus represents the state of one agent's turn within a run.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// StageRecord tracks one agent position in a run's pipeline. Positions are
// contiguous from 0 and a record is updated exactly once to a terminal state.
type StageRecord struct {
	RunID         RunID         `json:"run_id"`
	Position      int           `json:"position"`
	AgentName     string        `json:"agent_name"`
	Role          string        `json:"role"`
	Status        StageStatus   `json:"status"`
	Duration      time.Duration `json:"duration"`
	OutputSummary string        `json:"output_summary,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// NewStageRecord creates a running stage record for an agent position.
func NewStageRecord(runID RunID, position int, agentName, role string) *StageRecord {
	return &StageRecord{
		RunID:     runID,
		Position:  position,
		AgentName: agentName,
		Role:      role,
		Status:    StageStatusRunning,
		StartedAt: time.Now(),
	}
}

// Complete marks the stage completed with its handoff summary.
func (s *StageRecord) Complete(summary string) {
	now := time.Now()
	s.Status = StageStatusCompleted
	s.OutputSummary = summary
	s.Duration = now.Sub(s.StartedAt)
	s.CompletedAt = &now
}

// Fail marks the stage failed.
func (s *StageRecord) Fail(err error) {
	now := time.Now()
	s.Status = StageStatusFailed
	s.Error = err.Error()
	s.Duration = now.Sub(s.StartedAt)
	s.CompletedAt = &now
}

// IsTerminal reports whether the stage reached a terminal state.
func (s *StageRecord) IsTerminal() bool {
	return s.Status == StageStatusCompleted || s.Status == StageStatusFailed
}

// ResumePosition computes the smallest position with no completed stage
// record, or the total count when every position up to it is complete.
// Records may arrive unordered; only a contiguous completed prefix counts.
func ResumePosition(records []*StageRecord) int {
	completed := make(map[int]bool, len(records))
	for _, rec := range records {
		if rec.Status == StageStatusCompleted {
			completed[rec.Position] = true
		}
	}
	pos := 0
	for completed[pos] {
		pos++
	}
	return pos
}

// StageKey returns a stable identifier for logging and report paths.
func (s *StageRecord) StageKey() string {
	return fmt.Sprintf("%02d-%s", s.Position, s.AgentName)
}
