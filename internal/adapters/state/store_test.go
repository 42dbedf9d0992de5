package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-run/relay/internal/core"
)

// storeTests exercises the core.Store contract against any implementation.
func storeTests(t *testing.T, newStore func(t *testing.T) core.Store) {
	ctx := context.Background()

	t.Run("run round trip", func(t *testing.T) {
		store := newStore(t)
		limit := 5.0
		run := core.NewRun("analyze logs", 10*time.Minute)
		run.CostLimit = &limit

		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}

		got, err := store.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun() error = %v", err)
		}
		if got.Prompt != "analyze logs" || got.Status != core.RunStatusPending {
			t.Errorf("GetRun() = %+v", got)
		}
		if got.CostLimit == nil || *got.CostLimit != 5.0 {
			t.Errorf("CostLimit = %v, want 5.0", got.CostLimit)
		}
		if got.Timeout != 10*time.Minute {
			t.Errorf("Timeout = %v, want 10m", got.Timeout)
		}
	})

	t.Run("get missing run", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetRun(ctx, "run-missing")
		var domainErr *core.DomainError
		if !errors.As(err, &domainErr) || !core.IsCategory(err, core.ErrCatNotFound) {
			t.Errorf("GetRun() error = %v, want not-found domain error", err)
		}
	})

	t.Run("terminal run rejects update", func(t *testing.T) {
		store := newStore(t)
		run := core.NewRun("prompt", time.Minute)
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		run.Complete(map[string]string{core.DeliverableReport: "rep-1"})
		if err := store.UpdateRun(ctx, run); err != nil {
			t.Fatalf("completing update error = %v", err)
		}

		run.Status = core.RunStatusRunning
		err := store.UpdateRun(ctx, run)
		if err == nil || !core.IsCategory(err, core.ErrCatState) {
			t.Errorf("UpdateRun() on completed run error = %v, want state error", err)
		}
	})

	t.Run("failed run stays writable for resume", func(t *testing.T) {
		store := newStore(t)
		run := core.NewRun("prompt", time.Minute)
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		run.Fail("provider died")
		if err := store.UpdateRun(ctx, run); err != nil {
			t.Fatalf("failing update error = %v", err)
		}

		if err := run.Start(); err != nil {
			t.Fatal(err)
		}
		if err := store.UpdateRun(ctx, run); err != nil {
			t.Errorf("UpdateRun() resuming failed run error = %v", err)
		}
	})

	t.Run("stages ordered by position", func(t *testing.T) {
		store := newStore(t)
		run := core.NewRun("prompt", time.Minute)
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}

		for _, pos := range []int{1, 0, 2} {
			stage := core.NewStageRecord(run.ID, pos, "agent", "role")
			if err := store.CreateStage(ctx, stage); err != nil {
				t.Fatalf("CreateStage(%d) error = %v", pos, err)
			}
		}

		stages, err := store.ListStages(ctx, run.ID)
		if err != nil {
			t.Fatalf("ListStages() error = %v", err)
		}
		if len(stages) != 3 {
			t.Fatalf("ListStages() = %d records, want 3", len(stages))
		}
		for i, stage := range stages {
			if stage.Position != i {
				t.Errorf("stages[%d].Position = %d", i, stage.Position)
			}
		}

		stages[1].Complete("summary")
		if err := store.UpdateStage(ctx, stages[1]); err != nil {
			t.Fatalf("UpdateStage() error = %v", err)
		}
		reread, _ := store.ListStages(ctx, run.ID)
		if reread[1].Status != core.StageStatusCompleted || reread[1].OutputSummary != "summary" {
			t.Errorf("updated stage = %+v", reread[1])
		}
	})

	t.Run("log append and filtered query", func(t *testing.T) {
		store := newStore(t)
		run := core.NewRun("prompt", time.Minute)
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}

		entries := []*core.LogEntry{
			{RunID: run.ID, Level: "info", Step: core.StepInit, Message: "starting"},
			{RunID: run.ID, Level: "info", Step: core.StepAgentComplete, AgentName: "researcher",
				Message: "done", Metadata: map[string]any{core.MetaHandoffSummary: "found 3 issues"}},
			{RunID: run.ID, Level: "info", Step: core.StepAgentComplete, AgentName: "writer", Message: "done"},
		}
		for _, e := range entries {
			if err := store.AppendLog(ctx, e); err != nil {
				t.Fatalf("AppendLog() error = %v", err)
			}
		}

		all, err := store.QueryLogs(ctx, run.ID, core.LogFilter{})
		if err != nil {
			t.Fatalf("QueryLogs() error = %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("QueryLogs() = %d entries, want 3", len(all))
		}
		// Newest first.
		if all[0].AgentName != "writer" || all[2].Step != core.StepInit {
			t.Errorf("QueryLogs() order wrong: first=%+v last=%+v", all[0], all[2])
		}
		if all[0].ID <= all[1].ID || all[1].ID <= all[2].ID {
			t.Errorf("IDs not monotonically increasing: %d %d %d", all[2].ID, all[1].ID, all[0].ID)
		}

		filtered, err := store.QueryLogs(ctx, run.ID, core.LogFilter{
			Step:      core.StepAgentComplete,
			AgentName: "researcher",
		})
		if err != nil {
			t.Fatalf("QueryLogs(filter) error = %v", err)
		}
		if len(filtered) != 1 {
			t.Fatalf("filtered = %d entries, want 1", len(filtered))
		}
		if got := filtered[0].Metadata[core.MetaHandoffSummary]; got != "found 3 issues" {
			t.Errorf("metadata round trip = %v", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeTests(t, func(t *testing.T) core.Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTests(t, func(t *testing.T) core.Store {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	run := core.NewRun("persist me", time.Minute)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() after reopen error = %v", err)
	}
	if got.Prompt != "persist me" {
		t.Errorf("Prompt = %q", got.Prompt)
	}
}
