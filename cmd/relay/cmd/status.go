package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/relay-run/relay/internal/adapters/state"
	"github.com/relay-run/relay/internal/core"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long:  "List all runs, or show one run's stages when a run ID is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return showRun(cmd.Context(), store, core.RunID(args[0]))
	}
	return listRuns(cmd.Context(), store)
}

func listRuns(ctx context.Context, store *state.SQLiteStore) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		return outputJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tDURATION\tPROMPT")
	fmt.Fprintln(w, "---\t------\t--------\t------")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			run.ID, run.Status, formatDuration(run), truncateText(run.Prompt, 60))
	}
	return w.Flush()
}

func showRun(ctx context.Context, store *state.SQLiteStore, runID core.RunID) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	stages, err := store.ListStages(ctx, runID)
	if err != nil {
		return err
	}

	if statusJSON {
		return outputJSON(struct {
			Run    *core.Run           `json:"run"`
			Stages []*core.StageRecord `json:"stages"`
		}{run, stages})
	}

	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("Status: %s\n", run.Status)
	fmt.Printf("Prompt: %s\n", truncateText(run.Prompt, 120))
	if run.Error != "" {
		fmt.Printf("Error: %s\n", run.Error)
	}
	if reportID, ok := run.Deliverables[core.DeliverableReport]; ok {
		fmt.Printf("Report: %s\n", reportID)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tAGENT\tROLE\tSTATUS")
	fmt.Fprintln(w, "---\t-----\t----\t------")
	for _, stage := range stages {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			stage.Position, stage.AgentName, stage.Role, stage.Status)
	}
	return w.Flush()
}

func formatDuration(run *core.Run) string {
	if d := run.Duration(); d > 0 {
		return d.Round(time.Second).String()
	}
	return "-"
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
