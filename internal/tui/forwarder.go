package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/pkg/models"
)

// Sender is the slice of tea.Program the forwarder needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Forwarder pipes human-role bus traffic into a running console program.
type Forwarder struct {
	bus   *bus.Bus
	subID string
}

// NewForwarder creates a forwarder over the given bus.
func NewForwarder(b *bus.Bus) *Forwarder {
	return &Forwarder{bus: b}
}

// Attach subscribes to approval requests and forwards each one to p.
// Detach before draining the bus.
func (f *Forwarder) Attach(p Sender) error {
	subID, err := f.bus.Subscribe(ConsoleID, bus.Predicate{RecipientRole: models.RoleHuman}, func(msg *models.Message) error {
		payload, ok := msg.Payload.(*models.ApprovalRequestPayload)
		if !ok {
			return nil
		}
		p.Send(ApprovalMsg{
			EscalationID: payload.EscalationID,
			TaskID:       msg.TaskID,
			ComponentID:  payload.ComponentID,
			Reason:       payload.Reason,
			Rejections:   payload.RejectionCount,
			Summary:      payload.Summary,
			History:      payload.History,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("console subscribe: %w", err)
	}
	f.subID = subID
	return nil
}

// Detach unsubscribes from the bus.
func (f *Forwarder) Detach() {
	if f.subID != "" {
		f.bus.Unsubscribe(f.subID)
		f.subID = ""
	}
}

// NewConsoleProgram wraps the console in a Bubbletea program.
func NewConsoleProgram(c *Console) *tea.Program {
	return tea.NewProgram(c, tea.WithAltScreen())
}
