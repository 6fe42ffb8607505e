package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/internal/engine"
	"github.com/crewline/arbiter/pkg/models"
)

// cliObserverID is the subscriber identity for headless bus observation.
const cliObserverID = "cli"

// runHeadlessMode prints pipeline activity to stdout until every task is
// terminal or the context is cancelled. Escalations print instructions for
// 'arbiter resolve'; the signals watcher applies the answers.
func runHeadlessMode(ctx context.Context, b *bus.Bus, eng *engine.Engine) error {
	subs, err := observeBus(b)
	if err != nil {
		return err
	}
	defer func() {
		for _, id := range subs {
			b.Unsubscribe(id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-eng.Events():
			if !ok {
				return nil
			}
			printEvent(event)
			if event.Type == engine.EventPipelineDone {
				printFinalSummary(eng.Progress())
				return nil
			}
		}
	}
}

// observeBus taps verdict and approval traffic for display. Observers get
// their own copies of each envelope; the real consumers are unaffected.
func observeBus(b *bus.Bus) ([]string, error) {
	var subs []string

	controllerSub, err := b.Subscribe(cliObserverID, bus.Predicate{RecipientRole: models.RoleController}, func(msg *models.Message) error {
		printVerdictTraffic(msg)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("observe verdict traffic: %w", err)
	}
	subs = append(subs, controllerSub)

	humanSub, err := b.Subscribe(cliObserverID, bus.Predicate{RecipientRole: models.RoleHuman}, func(msg *models.Message) error {
		if payload, ok := msg.Payload.(*models.ApprovalRequestPayload); ok {
			printApprovalRequest(msg.TaskID, payload)
		}
		return nil
	})
	if err != nil {
		b.Unsubscribe(controllerSub)
		return nil, fmt.Errorf("observe approval requests: %w", err)
	}
	subs = append(subs, humanSub)

	return subs, nil
}

// printVerdictTraffic prints artifact deliveries and validation verdicts.
func printVerdictTraffic(msg *models.Message) {
	switch payload := msg.Payload.(type) {
	case *models.CompletionPayload:
		fmt.Printf("[ARTIFACT] task %s attempt %d delivered by %s\n",
			msg.TaskID, payload.AttemptNumber, msg.SenderID)
	case *models.ValidationResultPayload:
		if payload.Result == models.VerdictPass {
			fmt.Printf("[%s] task %s attempt %d accepted by %s\n",
				color.GreenString("PASS"), msg.TaskID, payload.AttemptNumber, payload.ValidatorID)
		} else {
			fmt.Printf("[%s] task %s attempt %d: %s\n",
				color.RedString("FAIL"), msg.TaskID, payload.AttemptNumber, truncate(payload.Feedback, 80))
		}
	}
}

// printApprovalRequest prints an escalation and how to answer it.
func printApprovalRequest(taskID string, payload *models.ApprovalRequestPayload) {
	fmt.Printf("[%s] task %s (%s): %s after %d rejection(s)\n",
		color.YellowString("ESCALATED"), taskID, payload.ComponentID, payload.Reason, payload.RejectionCount)
	if payload.Summary != "" {
		fmt.Printf("  %s\n", payload.Summary)
	}
	fmt.Printf("  answer with: arbiter resolve %s <retry|accept|abort>\n", taskID)
}

// printEvent prints one engine event.
func printEvent(event engine.Event) {
	switch event.Type {
	case engine.EventTaskSubmitted:
		fmt.Printf("[SUBMIT] task %s (%s)\n", event.TaskID, event.ComponentID)
	case engine.EventTaskAssigned:
		fmt.Printf("[ASSIGN] task %s -> %s (%s)\n", event.TaskID, event.AgentID, event.Message)
	case engine.EventTaskStarted:
		fmt.Printf("[START] task %s acknowledged by %s\n", event.TaskID, event.AgentID)
	case engine.EventAgentProgress:
		fmt.Printf("[PROGRESS] task %s: %s\n", event.TaskID, truncate(event.Message, 80))
	case engine.EventTaskReassigned:
		fmt.Printf("[REASSIGN] task %s -> %s (%s)\n", event.TaskID, event.AgentID, event.Message)
	case engine.EventTaskFailed:
		fmt.Printf("[%s] task %s: %s\n", color.RedString("FAILED"), event.TaskID, event.Message)
	case engine.EventPipelineDone:
		fmt.Printf("\n[DONE] %s\n", event.Message)
	}
}

// printFinalSummary prints the closing per-state counts.
func printFinalSummary(s *models.PipelineSummary) {
	completed := s.ByState[models.TaskStateCompleted]
	failed := s.ByState[models.TaskStateFailed]
	fmt.Printf("Pipeline finished: %d completed, %d failed (of %d)\n", completed, failed, s.Total)
	if failed > 0 {
		fmt.Println("Inspect failures with: arbiter status")
	}
}
