package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relay-run/relay/internal/adapters/state"
	"github.com/relay-run/relay/internal/core"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Long:  "Mark a run cancelled. Cancelled runs cannot be resumed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
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
	run, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if run.Status == core.RunStatusCompleted || run.Status == core.RunStatusCancelled {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}

	run.Cancel("cancelled by operator")
	if err := store.UpdateRun(cmd.Context(), run); err != nil {
		return err
	}
	fmt.Printf("run %s cancelled\n", runID)
	return nil
}
