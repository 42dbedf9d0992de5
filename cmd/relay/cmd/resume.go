package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relay-run/relay/internal/config"
	"github.com/relay-run/relay/internal/core"
	"github.com/relay-run/relay/internal/service/pipeline"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a failed run",
	Long: `Re-enter a failed run at its first incomplete stage. Completed stages are
skipped; a stage that crashed mid-conversation continues from its last
recorded snapshot. The existing report is appended to, not recreated.`,
	Args: cobra.ExactArgs(1),
	RunE: resumeRun,
}

var resumeTeamFile string

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVarP(&resumeTeamFile, "team", "t", "", "Team definition file (YAML)")
	_ = resumeCmd.MarkFlagRequired("team")
}

func resumeRun(_ *cobra.Command, args []string) error {
	runID := core.RunID(args[0])

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	team, err := config.LoadTeam(resumeTeamFile)
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, pipeline.StaticTeam{Team: team})
	if err != nil {
		return err
	}
	defer eng.Close()

	run, err := eng.store.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case core.RunStatusCompleted:
		return fmt.Errorf("run %s already completed", runID)
	case core.RunStatusCancelled:
		return fmt.Errorf("run %s was cancelled and cannot be resumed", runID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping...")
		cancel()
	}()

	runErr := eng.orchestrator.Run(ctx, runID)
	printRunOutcome(eng, runID)
	return runErr
}
