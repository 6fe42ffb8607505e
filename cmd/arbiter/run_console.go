package main

import (
	"context"
	"fmt"
	"io"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/internal/engine"
	"github.com/crewline/arbiter/internal/escalation"
	"github.com/crewline/arbiter/internal/tui"
)

// runWithConsole runs the pipeline behind the interactive escalation
// console. Approval requests land in the console's queue and resolutions
// go through the escalation manager, which claims the record so racing
// surfaces cannot double-resolve.
func runWithConsole(ctx context.Context, b *bus.Bus, eng *engine.Engine, manager *escalation.Manager) (retErr error) {
	// Suppress log output while the console is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithConsole: %v", r)
		}
	}()

	console := tui.NewConsole()
	console.SetResolveHandler(manager.Resolve)
	program := tui.NewConsoleProgram(console)

	forwarder := tui.NewForwarder(b)
	if err := forwarder.Attach(program); err != nil {
		return fmt.Errorf("attach console to bus: %w", err)
	}
	defer forwarder.Detach()

	pipelineDone := make(chan struct{})
	go forwardEngineEvents(program, eng, pipelineDone)

	tuiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tuiDone <- fmt.Errorf("PANIC in console: %v", r)
			}
		}()
		_, err := program.Run()
		tuiDone <- err
	}()

	var runErr error
	select {
	case <-ctx.Done():
		// Interrupt: close the console, then let the deferred teardown
		// stop the pipeline. State is persisted; rerunning resumes it.
		program.Quit()
		runErr = <-tuiDone

	case <-pipelineDone:
		// Keep the console up so the operator sees the outcome.
		program.Send(tui.StatusMsg{Text: "pipeline finished; press q to exit"})
		runErr = <-tuiDone

	case err := <-tuiDone:
		runErr = err
	}

	if n := console.Pending(); n > 0 {
		fmt.Printf("%d escalation(s) still open; answer with 'arbiter resolve' or rerun\n", n)
	}
	return runErr
}

// forwardEngineEvents converts engine events to console messages. Every
// event also refreshes the summary header. Closes done when the pipeline
// completes.
func forwardEngineEvents(program *tea.Program, eng *engine.Engine, done chan<- struct{}) {
	for event := range eng.Events() {
		if text := eventStatusLine(event); text != "" {
			program.Send(tui.StatusMsg{Text: text})
		}
		program.Send(tui.SummaryMsg{Summary: eng.Progress()})
		if event.Type == engine.EventPipelineDone {
			close(done)
			return
		}
	}
}

// eventStatusLine renders an engine event for the console footer. Noisy
// event kinds return empty and are not shown.
func eventStatusLine(event engine.Event) string {
	switch event.Type {
	case engine.EventTaskAssigned:
		return fmt.Sprintf("task %s assigned to %s", event.TaskID, event.AgentID)
	case engine.EventTaskReassigned:
		return fmt.Sprintf("task %s reassigned to %s", event.TaskID, event.AgentID)
	case engine.EventTaskFailed:
		return fmt.Sprintf("task %s failed: %s", event.TaskID, event.Message)
	default:
		return ""
	}
}
