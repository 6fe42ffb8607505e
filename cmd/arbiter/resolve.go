package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewline/arbiter/internal/signals"
)

var resolveNote string

var resolveCmd = &cobra.Command{
	Use:   "resolve <task-id> <retry|accept|abort>",
	Short: "Answer an escalated task",
	Long: `Answer an escalated task from the command line.

Verbs:
  retry    Reset the retry budget and hand the task back to its owner
  accept   Accept the last artifact despite the failed validation
  abort    Fail the task permanently

The answer is written as a control file under .arbiter/signals; the running
pipeline consumes it and applies the resolution. Exactly one answer wins
per escalation, no matter how many surfaces respond.`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "Operator note recorded with the resolution")
}

func runResolve(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	res, ok := signals.ParseVerb(args[1])
	if !ok {
		return fmt.Errorf("unknown verb %q: must be retry, accept or abort", args[1])
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if err := signals.RequestResolution(cwd, taskID, res, resolveNote); err != nil {
		return fmt.Errorf("write resolution signal: %w", err)
	}

	printStatus("✓", fmt.Sprintf("resolution %s queued for task %s", args[1], taskID), color.FgGreen)
	return nil
}

// printStatus prints a colored status symbol followed by a message.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
