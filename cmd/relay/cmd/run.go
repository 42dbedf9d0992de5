package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/relay-run/relay/internal/config"
	"github.com/relay-run/relay/internal/core"
	"github.com/relay-run/relay/internal/service/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a pipeline to completion",
	Long: `Create a run for each prompt and drive it through every stage of the
team's pipeline. The prompt can be provided as an argument, via --prompt
(repeatable for concurrent runs), or via --file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

var (
	runTeamFile  string
	runPrompts   []string
	runFile      string
	runCostLimit float64
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTeamFile, "team", "t", "", "Team definition file (YAML)")
	runCmd.Flags().StringArrayVar(&runPrompts, "prompt", nil, "Prompt to run (repeat for concurrent runs)")
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Read prompt from file")
	runCmd.Flags().Float64Var(&runCostLimit, "cost-limit", 0, "Stop the run once cumulative cost (USD) reaches this (0 = config default)")
	_ = runCmd.MarkFlagRequired("team")
}

func runPipeline(_ *cobra.Command, args []string) error {
	prompts, err := collectPrompts(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	team, err := config.LoadTeam(runTeamFile)
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, pipeline.StaticTeam{Team: team})
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping...")
		cancel()
	}()

	costLimit := cfg.CostLimit()
	if runCostLimit > 0 {
		costLimit = &runCostLimit
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Engine.MaxConcurrentRuns)

	runIDs := make([]core.RunID, len(prompts))
	for i, prompt := range prompts {
		run := core.NewRun(prompt, cfg.RunTimeout())
		run.CostLimit = costLimit
		if err := eng.store.CreateRun(gctx, run); err != nil {
			return err
		}
		runIDs[i] = run.ID

		g.Go(func() error {
			return eng.orchestrator.Run(gctx, run.ID)
		})
	}

	runErr := g.Wait()

	for _, id := range runIDs {
		printRunOutcome(eng, id)
	}
	return runErr
}

func collectPrompts(args []string) ([]string, error) {
	prompts := append([]string(nil), runPrompts...)
	if len(args) == 1 && args[0] != "" {
		prompts = append(prompts, args[0])
	}
	if runFile != "" {
		data, err := os.ReadFile(runFile)
		if err != nil {
			return nil, fmt.Errorf("reading prompt file: %w", err)
		}
		prompts = append(prompts, string(data))
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("no prompt provided: pass one as an argument, --prompt, or --file")
	}
	return prompts, nil
}

func printRunOutcome(eng *engine, id core.RunID) {
	run, err := eng.store.GetRun(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run %s: %v\n", id, err)
		return
	}
	fmt.Printf("run %s: %s", run.ID, run.Status)
	if run.Error != "" {
		fmt.Printf(" (%s)", run.Error)
	}
	if reportID, ok := run.Deliverables[core.DeliverableReport]; ok {
		fmt.Printf("\n  report: %s", eng.sink.Path(reportID))
	}
	fmt.Println()
}
