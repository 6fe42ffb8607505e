package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewline/arbiter/internal/signals"
)

var cancelNote string

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running task",
	Long: `Cancel a task that should not run to completion.

The request is written as a control file under .arbiter/signals; the running
pipeline consumes it and fails the task. Tasks already in a terminal state
are left alone, and a completion arriving after the cancel is discarded as
stale.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelNote, "note", "", "Reason recorded as the task's failure reason")
}

func runCancel(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if err := signals.RequestCancel(cwd, taskID, cancelNote); err != nil {
		return fmt.Errorf("write cancel signal: %w", err)
	}

	printStatus("✓", fmt.Sprintf("cancellation queued for task %s", taskID), color.FgGreen)
	return nil
}
