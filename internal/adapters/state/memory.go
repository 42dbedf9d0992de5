package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relay-run/relay/internal/core"
)

// MemoryStore implements core.Store in memory. Used in tests and for
// ephemeral runs that don't need crash recovery.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[core.RunID]*core.Run
	stages map[core.RunID]map[int]*core.StageRecord
	logs   map[core.RunID][]*core.LogEntry
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[core.RunID]*core.Run),
		stages: make(map[core.RunID]map[int]*core.StageRecord),
		logs:   make(map[core.RunID][]*core.LogEntry),
	}
}

// CreateRun inserts a new run.
func (s *MemoryStore) CreateRun(ctx context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return core.ErrState("RUN_EXISTS", fmt.Sprintf("run %s already exists", run.ID))
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// GetRun retrieves a run by ID.
func (s *MemoryStore) GetRun(ctx context.Context, id core.RunID) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.ErrNotFound("run", string(id))
	}
	cp := *run
	return &cp, nil
}

// UpdateRun persists a run's current state, rejecting mutation of runs that
// can no longer change (completed or cancelled).
func (s *MemoryStore) UpdateRun(ctx context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return core.ErrNotFound("run", string(run.ID))
	}
	if existing.Status == core.RunStatusCompleted || existing.Status == core.RunStatusCancelled {
		return core.ErrState("RUN_TERMINAL",
			fmt.Sprintf("run %s is already terminal and cannot be updated", run.ID))
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// ListRuns returns all runs, newest first.
func (s *MemoryStore) ListRuns(ctx context.Context) ([]*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*core.Run, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// CreateStage inserts a stage record.
func (s *MemoryStore) CreateStage(ctx context.Context, stage *core.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPos, ok := s.stages[stage.RunID]
	if !ok {
		byPos = make(map[int]*core.StageRecord)
		s.stages[stage.RunID] = byPos
	}
	if _, exists := byPos[stage.Position]; exists {
		return core.ErrState("STAGE_EXISTS",
			fmt.Sprintf("stage %s/%d already exists", stage.RunID, stage.Position))
	}
	cp := *stage
	byPos[stage.Position] = &cp
	return nil
}

// UpdateStage persists a stage record's current state.
func (s *MemoryStore) UpdateStage(ctx context.Context, stage *core.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPos, ok := s.stages[stage.RunID]
	if !ok {
		return core.ErrNotFound("stage", fmt.Sprintf("%s/%d", stage.RunID, stage.Position))
	}
	if _, exists := byPos[stage.Position]; !exists {
		return core.ErrNotFound("stage", fmt.Sprintf("%s/%d", stage.RunID, stage.Position))
	}
	cp := *stage
	byPos[stage.Position] = &cp
	return nil
}

// ListStages returns all stage records for a run ordered by position.
func (s *MemoryStore) ListStages(ctx context.Context, runID core.RunID) ([]*core.StageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byPos := s.stages[runID]
	stages := make([]*core.StageRecord, 0, len(byPos))
	for _, stage := range byPos {
		cp := *stage
		stages = append(stages, &cp)
	}
	sort.Slice(stages, func(i, j int) bool {
		return stages[i].Position < stages[j].Position
	})
	return stages, nil
}

// AppendLog appends one entry to a run's log.
func (s *MemoryStore) AppendLog(ctx context.Context, entry *core.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := *entry
	cp.ID = s.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	entry.ID = cp.ID
	s.logs[entry.RunID] = append(s.logs[entry.RunID], &cp)
	return nil
}

// QueryLogs returns log entries matching the filter, newest first.
func (s *MemoryStore) QueryLogs(ctx context.Context, runID core.RunID, filter core.LogFilter) ([]*core.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[runID]
	matched := make([]*core.LogEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if filter.Matches(entries[i]) {
			cp := *entries[i]
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}
