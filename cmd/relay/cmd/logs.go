package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relay-run/relay/internal/adapters/state"
	"github.com/relay-run/relay/internal/core"
)

var logsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Show a run's log stream",
	Long:  "Print the run's append-only log, oldest first. Filter by step or agent.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var (
	logsStep  string
	logsAgent string
	logsJSON  bool
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsStep, "step", "", "Filter by step tag (e.g. agent_complete)")
	logsCmd.Flags().StringVar(&logsAgent, "agent", "", "Filter by agent name")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "Output as JSON")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := core.RunID(args[0])
	if _, err := store.GetRun(cmd.Context(), runID); err != nil {
		return err
	}

	entries, err := store.QueryLogs(cmd.Context(), runID, core.LogFilter{
		Step:      core.StepTag(logsStep),
		AgentName: logsAgent,
	})
	if err != nil {
		return err
	}

	// The store returns newest first; display oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	if logsJSON {
		return outputJSON(entries)
	}

	for _, entry := range entries {
		agent := entry.AgentName
		if agent == "" {
			agent = "-"
		}
		fmt.Printf("%s  %-5s %-16s %-12s %s\n",
			entry.CreatedAt.Format("15:04:05"), entry.Level, entry.Step, agent, entry.Message)
	}
	return nil
}
