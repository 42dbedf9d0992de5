package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/relay-run/relay/internal/core"
	"github.com/relay-run/relay/internal/logging"
)

// TeamResolver supplies the ordered agent team for a run. The web/config
// layer owns team storage; the engine only needs resolution.
type TeamResolver interface {
	ResolveTeam(ctx context.Context, run *core.Run) (*core.Team, error)
}

// StaticTeam resolves every run to the same team.
type StaticTeam struct {
	Team *core.Team
}

// ResolveTeam returns the fixed team.
func (s StaticTeam) ResolveTeam(ctx context.Context, run *core.Run) (*core.Team, error) {
	return s.Team, nil
}

// Orchestrator owns the run lifecycle: it transitions the run to running,
// races the pipeline body against the run timeout, and finalizes terminal
// state. Finalization never returns an error to the caller.
type Orchestrator struct {
	store    core.Store
	sink     core.ReportSink
	executor *Executor
	teams    TeamResolver
	logger   *logging.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. maxConcurrent bounds how many
// background runs StartRun admits at once.
func NewOrchestrator(store core.Store, sink core.ReportSink, executor *Executor, teams TeamResolver, maxConcurrent int64, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		store:    store,
		sink:     sink,
		executor: executor,
		teams:    teams,
		logger:   logger,
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
}

// StartRun executes a run in the background, fire-and-forget. Admission is
// bounded by the orchestrator's semaphore; the caller observes the outcome
// through the Run entity.
func (o *Orchestrator) StartRun(runID core.RunID) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx := context.Background()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		if err := o.Run(ctx, runID); err != nil {
			o.logger.Error("background run failed", "run_id", runID, "error", err)
		}
	}()
}

// Wait blocks until all background runs started via StartRun have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run executes one run to a terminal state. The returned error mirrors the
// run's failure reason for callers that want it; the durable outcome always
// lives on the Run entity.
func (o *Orchestrator) Run(ctx context.Context, runID core.RunID) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	logger := o.logger.WithRun(string(run.ID))

	if err := run.Validate(); err != nil {
		o.finalizeFailure(ctx, run, err.Error(), core.StepCrash)
		return err
	}

	if err := run.Start(); err != nil {
		return core.ErrState(core.CodeInvalidState, err.Error())
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	o.appendLog(ctx, run.ID, "info", core.StepInit, "run started", nil)
	logger.Info("run started", "topology", run.Topology, "timeout", run.Timeout)

	team, err := o.teams.ResolveTeam(ctx, run)
	if err != nil {
		o.finalizeFailure(ctx, run, fmt.Sprintf("resolving agents: %v", err), core.StepCrash)
		return err
	}
	o.appendLog(ctx, run.ID, "info", core.StepResolveAgents,
		fmt.Sprintf("resolved %d agents", len(team.Members)), nil)

	reportID, err := o.ensureReport(ctx, run)
	if err != nil {
		o.finalizeFailure(ctx, run, fmt.Sprintf("creating report: %v", err), core.StepCrash)
		return err
	}

	// The pipeline body races the run timeout in its own cancellable
	// goroutine. On timeout the body's context is cancelled and the run is
	// finalized without waiting: an in-flight provider call or tool
	// execution may still be running briefly after the run is marked
	// failed. That abandonment is the documented side-effect risk of hard
	// timeout enforcement.
	bodyCtx, cancelBody := context.WithCancel(ctx)
	defer cancelBody()

	done := make(chan error, 1)
	go func() {
		done <- o.executor.Execute(bodyCtx, run, team, reportID)
	}()

	timer := time.NewTimer(run.Timeout)
	defer timer.Stop()

	select {
	case execErr := <-done:
		if execErr != nil {
			o.finalizeFailure(ctx, run, execErr.Error(), core.StepCrash)
			return execErr
		}
		o.finalizeSuccess(ctx, run, reportID)
		return nil

	case <-timer.C:
		cancelBody()
		timeoutErr := core.ErrTimeout(fmt.Sprintf("run exceeded timeout of %s", run.Timeout))
		o.finalizeFailure(ctx, run, timeoutErr.Message, core.StepTimeout)
		return timeoutErr

	case <-ctx.Done():
		cancelBody()
		run.Cancel(fmt.Sprintf("run cancelled: %v", ctx.Err()))
		o.persistFinal(ctx, run)
		o.appendLog(ctx, run.ID, "warn", core.StepCrash, run.Error, nil)
		return ctx.Err()
	}
}

// ensureReport reuses the run's existing report on resume and creates a
// fresh one otherwise. Exactly one report exists per run.
func (o *Orchestrator) ensureReport(ctx context.Context, run *core.Run) (string, error) {
	if id, ok := run.Deliverables[core.DeliverableReport]; ok && id != "" {
		return id, nil
	}

	title := run.Prompt
	if len(title) > 64 {
		title = title[:64]
	}
	id, err := o.sink.Create(ctx, title)
	if err != nil {
		return "", err
	}

	if run.Deliverables == nil {
		run.Deliverables = make(map[string]string, 1)
	}
	run.Deliverables[core.DeliverableReport] = id
	run.UpdatedAt = time.Now()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return "", err
	}
	o.appendLog(ctx, run.ID, "info", core.StepCreateReport,
		fmt.Sprintf("report %s created", id), nil)
	return id, nil
}

func (o *Orchestrator) finalizeSuccess(ctx context.Context, run *core.Run, reportID string) {
	deliverables := run.Deliverables
	if deliverables == nil {
		deliverables = make(map[string]string, 1)
	}
	deliverables[core.DeliverableReport] = reportID
	run.Complete(deliverables)
	o.persistFinal(ctx, run)
	o.appendLog(ctx, run.ID, "info", core.StepComplete,
		fmt.Sprintf("run completed in %s", run.Duration().Round(time.Millisecond)), nil)
	o.logger.WithRun(string(run.ID)).Info("run completed", "duration", run.Duration())
}

func (o *Orchestrator) finalizeFailure(ctx context.Context, run *core.Run, reason string, step core.StepTag) {
	run.Fail(reason)
	o.persistFinal(ctx, run)
	o.appendLog(ctx, run.ID, "error", step, reason, nil)
	o.logger.WithRun(string(run.ID)).Error("run failed", "reason", reason)
}

// persistFinal writes terminal state. A persistence failure here is logged
// and swallowed so finalization never raises.
func (o *Orchestrator) persistFinal(ctx context.Context, run *core.Run) {
	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.UpdateRun(persistCtx, run); err != nil {
		o.logger.Error("persisting final run state", "run_id", run.ID, "status", run.Status, "error", err)
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, runID core.RunID, level string, step core.StepTag, message string, metadata map[string]any) {
	entry := &core.LogEntry{
		RunID:    runID,
		Level:    level,
		Step:     step,
		Message:  message,
		Metadata: metadata,
	}
	if err := o.store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Error("appending run log entry", "run_id", runID, "step", step, "error", err)
	}
}
