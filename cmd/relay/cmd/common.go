package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/relay-run/relay/internal/adapters/llm"
	"github.com/relay-run/relay/internal/adapters/report"
	"github.com/relay-run/relay/internal/adapters/state"
	"github.com/relay-run/relay/internal/adapters/tools"
	"github.com/relay-run/relay/internal/config"
	"github.com/relay-run/relay/internal/logging"
	"github.com/relay-run/relay/internal/service"
	"github.com/relay-run/relay/internal/service/pipeline"
)

// engine bundles the wired pipeline components a command needs.
type engine struct {
	cfg          *config.Config
	logger       *logging.Logger
	store        *state.SQLiteStore
	sink         *report.MarkdownSink
	orchestrator *pipeline.Orchestrator
}

// Close releases the engine's resources.
func (e *engine) Close() error {
	return e.store.Close()
}

// newEngine wires the full pipeline stack from configuration. teams supplies
// the agent team for each run; commands build it from a team file.
func newEngine(cfg *config.Config, teams pipeline.TeamResolver) (*engine, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	if dir := filepath.Dir(cfg.State.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}
	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	sink := report.NewMarkdownSink(cfg.Report.Dir)
	ledger := service.NewMemoryLedger()
	resolver := pipeline.NewToolResolver(builtinTools(), tools.NewHTTPInvoker())

	provider := llm.NewCommandProvider(cfg.Provider.Command, cfg.Provider.Args,
		llm.WithCallTimeout(cfg.CallTimeout()),
		llm.WithLogger(logger),
	)

	gen := pipeline.NewGenerator(provider, ledger, resolver,
		pipeline.WithMaxIterations(cfg.Engine.MaxIterations),
		pipeline.WithKeepRounds(cfg.Engine.KeepRounds),
		pipeline.WithPromptCache(cfg.Provider.EnableCache),
		pipeline.WithRetryPolicy(service.NewRetryPolicy(
			service.WithMaxRetries(cfg.Engine.MaxRetries),
		)),
		pipeline.WithGeneratorLogger(logger),
	)

	resume := pipeline.NewResumeReader(store)
	executor := pipeline.NewExecutor(store, sink, gen, resume, resolver, ledger, logger)
	orchestrator := pipeline.NewOrchestrator(store, sink, executor, teams,
		int64(cfg.Engine.MaxConcurrentRuns), logger)

	return &engine{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		sink:         sink,
		orchestrator: orchestrator,
	}, nil
}

// builtinTools is the in-process tool registry. Empty for now; teams use
// remote tools until in-process ones are registered here.
func builtinTools() map[string]pipeline.BuiltinHandler {
	return map[string]pipeline.BuiltinHandler{}
}
