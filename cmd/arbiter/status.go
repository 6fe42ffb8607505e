package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/internal/registry"
	"github.com/crewline/arbiter/pkg/models"
)

var statusMessages bool

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show pipeline state",
	Long: `Display the persisted pipeline state for this project.

Shows every task with its state, owner and retry count, plus open
escalations waiting for a human. With --messages, also prints the newest
entries from the message journal.

With a task id, shows that task in full instead: attempt history, the
state transition audit trail, its escalation record, and (with --messages)
every bus message recorded for it.

State is read from .arbiter/state.db, so this works from another terminal
while the pipeline runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusMessages, "messages", false, "Show recent bus messages from the journal")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := registry.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No pipeline state. Run 'arbiter run' to start one.")
		return nil
	}

	db, err := registry.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	reg := registry.New(db)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("load pipeline state: %w", err)
	}

	if len(args) == 1 {
		if err := displayTaskDetail(reg, db, args[0]); err != nil {
			return err
		}
		if statusMessages {
			fmt.Println()
			return displayTaskMessages(cwd, args[0])
		}
		return nil
	}

	displaySummary(reg.Summary())
	displayTasks(reg.List(nil))
	displayEscalations(reg)

	if statusMessages {
		fmt.Println()
		if err := displayMessages(cwd); err != nil {
			return err
		}
	}
	return nil
}

// displaySummary prints the per-state task counts.
func displaySummary(s *models.PipelineSummary) {
	if s.Total == 0 {
		fmt.Println("No tasks recorded.")
		return
	}

	fmt.Printf("Pipeline: %d task(s)\n", s.Total)
	order := []models.TaskState{
		models.TaskStatePending,
		models.TaskStateAssigned,
		models.TaskStateInProgress,
		models.TaskStateValidating,
		models.TaskStateEscalated,
		models.TaskStateCompleted,
		models.TaskStateFailed,
	}
	for _, state := range order {
		if n := s.ByState[state]; n > 0 {
			fmt.Printf("  %s: %d\n", stateColor(state).Sprint(state), n)
		}
	}
	fmt.Println()
}

// displayTasks prints one line per task.
func displayTasks(tasks []*models.Task) {
	if len(tasks) == 0 {
		return
	}

	fmt.Println("Tasks:")
	for _, t := range tasks {
		owner := t.OwnerAgentID
		if owner == "" {
			owner = "-"
		}
		detail := fmt.Sprintf("retries %d/%d", t.RetryCount, t.MaxRetries)
		if t.State == models.TaskStateFailed && t.FailureReason != "" {
			detail = truncate(t.FailureReason, 60)
		}
		fmt.Printf("  %s  %s %-12s owner=%-14s %s (%s ago)\n",
			t.ID,
			stateColor(t.State).Sprintf("%-12s", t.State),
			t.ComponentID,
			owner,
			detail,
			formatDuration(time.Since(t.UpdatedAt)))
	}
	fmt.Println()
}

// displayEscalations prints open escalations and how to answer them.
func displayEscalations(reg *registry.Registry) {
	open := models.EscalationStatusOpen
	escalations := reg.ListEscalations(&open)
	if len(escalations) == 0 {
		return
	}

	fmt.Println("Open escalations:")
	for _, e := range escalations {
		fmt.Printf("  %s  task %s  %s  %d rejection(s)  (%s ago)\n",
			e.ID,
			e.TaskID,
			color.New(color.FgYellow).Sprint(e.Reason),
			e.RejectionCount,
			formatDuration(time.Since(e.CreatedAt)))
	}
	fmt.Println()
	fmt.Println("Answer with: arbiter resolve <task-id> <retry|accept|abort>")
}

// displayMessages prints the newest journal entries, oldest first.
func displayMessages(projectRoot string) error {
	journalPath := bus.ProjectJournalPath(projectRoot)
	if _, err := os.Stat(journalPath); os.IsNotExist(err) {
		fmt.Println("No message journal.")
		return nil
	}

	journal, err := bus.OpenJournal(journalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	entries, err := journal.Recent(20)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No messages recorded.")
		return nil
	}

	fmt.Printf("Recent messages (newest %d):\n", len(entries))
	// Recent returns newest first; print oldest first so the log reads down.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		recipient := e.RecipientID
		if recipient == "" {
			recipient = "role:" + e.RecipientRole
		}
		fmt.Printf("  %s  %-20s %s -> %s  task=%s\n",
			e.CreatedAt.Local().Format("15:04:05"),
			e.Type,
			e.SenderID,
			recipient,
			e.TaskID)
	}
	return nil
}

// displayTaskDetail prints one task in full: fields, attempt history, the
// transition audit trail, and its escalation record if one exists.
func displayTaskDetail(reg *registry.Registry, db *registry.DB, taskID string) error {
	t, err := reg.Get(taskID)
	if err != nil {
		return err
	}

	fmt.Printf("Task %s  component %s\n", t.ID, t.ComponentID)
	fmt.Printf("  state %s  retries %d/%d  updated %s ago\n",
		stateColor(t.State).Sprint(t.State),
		t.RetryCount, t.MaxRetries,
		formatDuration(time.Since(t.UpdatedAt)))
	if t.Class != "" {
		fmt.Printf("  class %s\n", t.Class)
	}
	if t.OwnerAgentID != "" {
		fmt.Printf("  owner %s\n", t.OwnerAgentID)
	}
	if t.FailureReason != "" {
		fmt.Printf("  failure: %s\n", t.FailureReason)
	}

	if len(t.Attempts) > 0 {
		fmt.Println()
		fmt.Println("Attempts:")
		for _, a := range t.Attempts {
			line := fmt.Sprintf("  %d. %s by %s", a.AttemptNumber, a.Result, a.ValidatorID)
			if a.Feedback != "" {
				line += ": " + truncate(a.Feedback, 80)
			}
			fmt.Println(line)
		}
	}

	transitions, err := db.ListTransitions(taskID)
	if err != nil {
		return fmt.Errorf("read transitions: %w", err)
	}
	if len(transitions) > 0 {
		fmt.Println()
		fmt.Println("Transitions:")
		for _, rec := range transitions {
			line := fmt.Sprintf("  %s  %s -> %s",
				rec.CreatedAt.Local().Format("15:04:05"), rec.From, rec.To)
			if rec.Reason != "" {
				line += "  (" + truncate(rec.Reason, 60) + ")"
			}
			fmt.Println(line)
		}
	}

	// No escalation record is the normal case, not an error.
	if esc, err := reg.GetEscalation(taskID); err == nil {
		fmt.Println()
		fmt.Printf("Escalation %s  %s  %d rejection(s)  (%s ago)\n",
			esc.ID, esc.Status, esc.RejectionCount, formatDuration(time.Since(esc.CreatedAt)))
		fmt.Printf("  reason %s\n", color.New(color.FgYellow).Sprint(esc.Reason))
		if esc.Status == models.EscalationStatusResolved {
			line := fmt.Sprintf("  resolved as %s", esc.Resolution)
			if esc.Note != "" {
				line += ": " + esc.Note
			}
			fmt.Println(line)
		}
	}
	return nil
}

// displayTaskMessages prints every journaled envelope for one task,
// oldest first, with a decoded payload summary where one is useful.
func displayTaskMessages(projectRoot, taskID string) error {
	journalPath := bus.ProjectJournalPath(projectRoot)
	if _, err := os.Stat(journalPath); os.IsNotExist(err) {
		fmt.Println("No message journal.")
		return nil
	}

	journal, err := bus.OpenJournal(journalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	entries, err := journal.TaskHistory(taskID)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No messages recorded for this task.")
		return nil
	}

	fmt.Printf("Messages (%d):\n", len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-20s %s",
			e.CreatedAt.Local().Format("15:04:05"), e.Type, e.SenderID)
		if detail := payloadLine(e); detail != "" {
			line += "  " + detail
		}
		fmt.Println(line)
	}
	return nil
}

// payloadLine renders a one-line summary of a journaled payload. Entries
// that carry nothing displayable, or fail to decode, render as their
// header line alone.
func payloadLine(e bus.JournalEntry) string {
	payload, err := models.DecodePayload(e.Type, []byte(e.Payload))
	if err != nil {
		return ""
	}
	switch p := payload.(type) {
	case *models.AssignmentPayload:
		return fmt.Sprintf("attempt %d for %s", p.AttemptNumber, p.ComponentID)
	case *models.CompletionPayload:
		return fmt.Sprintf("attempt %d artifact from %s", p.AttemptNumber, p.Artifact.ProducedBy)
	case *models.ValidationRequestPayload:
		return fmt.Sprintf("judge attempt %d", p.AttemptNumber)
	case *models.ValidationResultPayload:
		if p.Feedback != "" {
			return fmt.Sprintf("attempt %d %s: %s", p.AttemptNumber, p.Result, truncate(p.Feedback, 50))
		}
		return fmt.Sprintf("attempt %d %s", p.AttemptNumber, p.Result)
	case *models.EscalationRequestPayload:
		return fmt.Sprintf("%d rejection(s)", p.RejectionCount)
	case *models.StateUpdatePayload:
		if p.Note != "" {
			return fmt.Sprintf("%s -> %s: %s", p.From, p.To, truncate(p.Note, 50))
		}
		return fmt.Sprintf("%s -> %s", p.From, p.To)
	case *models.ErrorReportPayload:
		return fmt.Sprintf("%s: %s", p.AgentID, truncate(p.Reason, 50))
	case *models.ApprovalRequestPayload:
		return fmt.Sprintf("%s, %d rejection(s)", p.Reason, p.RejectionCount)
	case *models.CancelPayload:
		return truncate(p.Reason, 50)
	default:
		return ""
	}
}

// stateColor maps a task state to its display color.
func stateColor(state models.TaskState) *color.Color {
	switch state {
	case models.TaskStateCompleted:
		return color.New(color.FgGreen)
	case models.TaskStateFailed:
		return color.New(color.FgRed)
	case models.TaskStateEscalated:
		return color.New(color.FgYellow)
	case models.TaskStateInProgress, models.TaskStateValidating:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
