package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relay-run/relay/internal/core"
	"github.com/relay-run/relay/internal/logging"
)

// Executor drives a run's stages in order: computes the resume point, checks
// the cost budget between stages, threads handoff context forward, and halts
// on the first stage failure.
type Executor struct {
	store    core.Store
	sink     core.ReportSink
	gen      *Generator
	resume   *ResumeReader
	resolver *ToolResolver
	ledger   core.UsageLedger
	logger   *logging.Logger
}

// NewExecutor wires the stage executor's collaborators.
func NewExecutor(store core.Store, sink core.ReportSink, gen *Generator, resume *ResumeReader, resolver *ToolResolver, ledger core.UsageLedger, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		store:    store,
		sink:     sink,
		gen:      gen,
		resume:   resume,
		resolver: resolver,
		ledger:   ledger,
		logger:   logger,
	}
}

// Execute runs every unexecuted stage of the run in order. Any stage failure
// halts the pipeline and is returned; later stages are never attempted.
func (e *Executor) Execute(ctx context.Context, run *core.Run, team *core.Team, reportID string) error {
	if err := team.Validate(); err != nil {
		return err
	}
	members := team.OrderedMembers()

	existing, err := e.store.ListStages(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading stage records: %w", err)
	}
	resumeFrom := core.ResumePosition(existing)
	recorded := make(map[int]bool, len(existing))
	for _, rec := range existing {
		recorded[rec.Position] = true
	}

	e.appendLog(ctx, run.ID, "info", core.StepPipeline, "",
		fmt.Sprintf("pipeline starting at position %d of %d", resumeFrom, len(members)), nil)

	if resumeFrom == 0 {
		if err := e.writeOverview(ctx, run, members, reportID); err != nil {
			return fmt.Errorf("writing overview section: %w", err)
		}
	}

	// Prior stage contributions come from persisted handoff summaries, not
	// from re-running completed stages.
	prior := make([]core.HandoffEntry, 0, resumeFrom)
	for pos := 0; pos < resumeFrom && pos < len(members); pos++ {
		member := members[pos]
		summary, err := e.resume.HandoffSummary(ctx, run.ID, member.Agent.Name)
		if err != nil {
			return fmt.Errorf("loading handoff summary for %s: %w", member.Agent.Name, err)
		}
		prior = append(prior, core.HandoffEntry{
			AgentName: member.Agent.Name,
			Role:      member.Role,
			Summary:   summary,
		})
	}

	for pos := resumeFrom; pos < len(members); pos++ {
		member := members[pos]

		if run.CostLimit != nil {
			exceeded, total, err := e.ledger.Check(ctx, run.ID, *run.CostLimit)
			if err != nil {
				return fmt.Errorf("checking cost limit: %w", err)
			}
			if exceeded {
				limitErr := core.ErrCostLimitExceeded(total, *run.CostLimit)
				e.appendLog(ctx, run.ID, "error", core.StepCostLimit, member.Agent.Name,
					limitErr.Message, map[string]any{"total_usd": total})
				return limitErr
			}
		}

		entry, err := e.executeStage(ctx, run, member, prior, reportID, recorded[pos])
		if err != nil {
			return err
		}
		prior = append(prior, entry)
	}

	if err := e.writeClosing(ctx, run, members, reportID, prior); err != nil {
		return fmt.Errorf("writing closing sections: %w", err)
	}

	e.appendLog(ctx, run.ID, "info", core.StepPipeline, "",
		fmt.Sprintf("pipeline completed %d stages", len(members)), nil)
	return nil
}

// executeStage runs one agent position to a terminal stage record. Panics
// inside the stage body are converted to stage failures here, at the stage
// boundary, so a corrupted stage halts the pipeline like any other failure.
func (e *Executor) executeStage(ctx context.Context, run *core.Run, member core.TeamMember, prior []core.HandoffEntry, reportID string, hasRecord bool) (entry core.HandoffEntry, err error) {
	agent := member.Agent
	logger := e.logger.WithRun(string(run.ID)).WithAgent(agent.Name).WithStage(member.Position)

	stage := core.NewStageRecord(run.ID, member.Position, agent.Name, member.Role)
	if hasRecord {
		// A non-completed record from a previous attempt is reused.
		if updateErr := e.store.UpdateStage(ctx, stage); updateErr != nil {
			return entry, fmt.Errorf("reopening stage record: %w", updateErr)
		}
	} else if createErr := e.store.CreateStage(ctx, stage); createErr != nil {
		return entry, fmt.Errorf("creating stage record: %w", createErr)
	}

	e.appendLog(ctx, run.ID, "info", core.StepAgentStart, agent.Name,
		fmt.Sprintf("stage %d (%s) starting", member.Position, member.Role), nil)

	defer func() {
		if r := recover(); r != nil {
			panicErr := core.ErrExecution(core.CodeStageCrashed,
				fmt.Sprintf("stage %d panicked: %v", member.Position, r))
			e.failStage(ctx, run, stage, panicErr, nil)
			err = panicErr
		}
	}()

	targets, specs, err := e.resolver.Resolve(agent)
	if err != nil {
		e.failStage(ctx, run, stage, err, nil)
		return entry, err
	}
	if len(specs) > 0 {
		e.appendLog(ctx, run.ID, "info", core.StepToolResolve, agent.Name,
			fmt.Sprintf("resolved %d tools", len(specs)), nil)
	}

	resumeMessages, err := e.resume.CrashMessages(ctx, run.ID, agent.Name)
	if err != nil {
		e.failStage(ctx, run, stage, err, nil)
		return entry, err
	}
	if len(resumeMessages) > 0 {
		logger.Info("resuming stage from crash snapshot", "messages", len(resumeMessages))
		e.appendLog(ctx, run.ID, "info", core.StepAgentResume, agent.Name,
			fmt.Sprintf("resuming from crash snapshot with %d messages", len(resumeMessages)), nil)
	}

	progress := func(round int, phase string) {
		e.appendLog(ctx, run.ID, "debug", core.StepLLMCall, agent.Name,
			fmt.Sprintf("round %d: %s", round, phase), nil)
	}

	output, genErr := e.gen.Generate(ctx, GenerateInput{
		Run:   run,
		Agent: agent,
		Role:  member.Role,
		Handoff: core.HandoffContext{
			Prompt:   run.Prompt,
			Prior:    prior,
			ReportID: reportID,
		},
		ResumeMessages: resumeMessages,
		Targets:        targets,
		Specs:          specs,
		Progress:       progress,
	})
	if genErr != nil {
		var messages []core.Message
		var generation *GenerationError
		if errors.As(genErr, &generation) {
			messages = generation.Messages
		}
		e.failStage(ctx, run, stage, genErr, messages)
		return entry, genErr
	}

	if err := e.writeStageSections(ctx, reportID, stage, agent, member.Role, output); err != nil {
		e.failStage(ctx, run, stage, err, output.Messages)
		return entry, err
	}

	summary := ExtractHandoffSummary(output.Output)
	stage.Complete(summary)
	if err := e.store.UpdateStage(ctx, stage); err != nil {
		return entry, fmt.Errorf("completing stage record: %w", err)
	}

	e.appendLog(ctx, run.ID, "info", core.StepAgentComplete, agent.Name,
		fmt.Sprintf("stage %d completed in %s", member.Position, stage.Duration.Round(time.Millisecond)),
		map[string]any{
			core.MetaHandoffSummary: summary,
			core.MetaOutput:         output.Output,
		})

	logger.Info("stage completed", "duration", stage.Duration)
	return core.HandoffEntry{
		AgentName: agent.Name,
		Role:      member.Role,
		Summary:   summary,
	}, nil
}

// failStage marks a stage failed and logs a crash entry. When messages are
// available they are serialized into the crash entry for exact resume.
func (e *Executor) failStage(ctx context.Context, run *core.Run, stage *core.StageRecord, stageErr error, messages []core.Message) {
	// Terminal state persists even when the stage context is cancelled.
	persistCtx := context.WithoutCancel(ctx)

	stage.Fail(stageErr)
	if err := e.store.UpdateStage(persistCtx, stage); err != nil {
		e.logger.Error("persisting failed stage record", "run_id", run.ID, "error", err)
	}

	metadata := map[string]any{}
	if len(messages) > 0 {
		if serialized, err := core.MarshalConversation(messages); err == nil {
			metadata[core.MetaMessages] = serialized
		} else {
			e.logger.Error("serializing crash conversation", "run_id", run.ID, "error", err)
		}
	}
	e.appendLog(persistCtx, run.ID, "error", core.StepAgentCrash, stage.AgentName,
		fmt.Sprintf("stage %d failed: %v", stage.Position, stageErr), metadata)
}

func (e *Executor) writeOverview(ctx context.Context, run *core.Run, members []core.TeamMember, reportID string) error {
	var b strings.Builder
	b.WriteString("# Overview\n\n")
	fmt.Fprintf(&b, "**Prompt:** %s\n\n", run.Prompt)
	fmt.Fprintf(&b, "**Topology:** %s\n\n", run.Topology)
	b.WriteString("## Stages\n\n")
	for _, m := range members {
		fmt.Fprintf(&b, "%d. %s - %s\n", m.Position+1, m.Agent.Name, m.Role)
	}
	return e.sink.WriteSections(ctx, reportID, []core.Section{
		{Path: "overview.md", Content: b.String()},
	})
}

func (e *Executor) writeStageSections(ctx context.Context, reportID string, stage *core.StageRecord, agent core.AgentDefinition, role string, output *StageOutput) error {
	base := "stages/" + stage.StageKey()

	var cfg strings.Builder
	cfg.WriteString("# Configuration\n\n")
	fmt.Fprintf(&cfg, "- Agent: %s\n- Role: %s\n- Model: %s\n", agent.Name, role, agent.Model)
	if agent.Strategy != "" {
		fmt.Fprintf(&cfg, "- Strategy: %s\n", agent.Strategy)
	}
	if len(agent.Tools) > 0 {
		cfg.WriteString("- Tools:\n")
		for _, tool := range agent.Tools {
			fmt.Fprintf(&cfg, "  - %s (%s)\n", tool.Name, tool.Kind)
		}
	}

	analysis := output.Analysis
	if analysis == "" {
		analysis = "No intermediate analysis rounds."
	}

	return e.sink.WriteSections(ctx, reportID, []core.Section{
		{Path: base + "/configuration.md", Content: cfg.String()},
		{Path: base + "/analysis.md", Content: "# Analysis\n\n" + analysis + "\n"},
		{Path: base + "/output.md", Content: "# Output\n\n" + output.Output + "\n"},
	})
}

func (e *Executor) writeClosing(ctx context.Context, run *core.Run, members []core.TeamMember, reportID string, prior []core.HandoffEntry) error {
	var summary strings.Builder
	summary.WriteString("# Pipeline Summary\n\n")
	fmt.Fprintf(&summary, "%d stages completed.\n\n", len(members))
	for i, entry := range prior {
		fmt.Fprintf(&summary, "## Stage %d: %s (%s)\n\n%s\n\n", i+1, entry.AgentName, entry.Role, entry.Summary)
	}

	var conclusion strings.Builder
	conclusion.WriteString("# Conclusion\n\n")
	fmt.Fprintf(&conclusion, "Run %s completed all %d stages.\n", run.ID, len(members))
	if len(prior) > 0 {
		conclusion.WriteString("\nFinal stage summary:\n\n")
		conclusion.WriteString(prior[len(prior)-1].Summary)
		conclusion.WriteString("\n")
	}

	return e.sink.WriteSections(ctx, reportID, []core.Section{
		{Path: "summary.md", Content: summary.String()},
		{Path: "conclusion.md", Content: conclusion.String()},
	})
}

func (e *Executor) appendLog(ctx context.Context, runID core.RunID, level string, step core.StepTag, agentName, message string, metadata map[string]any) {
	entry := &core.LogEntry{
		RunID:     runID,
		Level:     level,
		Step:      step,
		AgentName: agentName,
		Message:   message,
		Metadata:  metadata,
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		e.logger.Error("appending run log entry", "run_id", runID, "step", step, "error", err)
	}
}
