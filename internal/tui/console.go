// Package tui provides the interactive escalation console.
//
// The console is the default human oversight surface for a running
// pipeline: escalations queue up as they arrive over the bus, the operator
// inspects the rejection history and answers each one with a resolution and
// an optional note. The same decisions are available headlessly through
// `arbiter resolve` and the signals directory; whichever surface answers
// first wins.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crewline/arbiter/pkg/models"
)

// ConsoleID is the subscriber identity the console's forwarder uses.
const ConsoleID = "console"

// ApprovalMsg is sent when the escalation manager asks for a human decision.
type ApprovalMsg struct {
	EscalationID string
	TaskID       string
	ComponentID  string
	Reason       models.EscalationReason
	Rejections   int
	Summary      string
	History      []models.ValidationAttempt
}

// SummaryMsg refreshes the pipeline counts shown in the header.
type SummaryMsg struct {
	Summary *models.PipelineSummary
}

// StatusMsg puts a line in the console's status bar.
type StatusMsg struct {
	Text string
}

// escalationEntry is one queued decision.
type escalationEntry struct {
	escalationID string
	taskID       string
	componentID  string
	reason       models.EscalationReason
	rejections   int
	summary      string
	history      []models.ValidationAttempt
	receivedAt   time.Time
}

type consoleMode int

const (
	modeList consoleMode = iota
	modeDetail
	modeNote
)

// Console is the escalation queue model. Resolutions are applied through the
// resolve handler, synchronously from Update.
type Console struct {
	width  int
	height int

	mode       consoleMode
	returnMode consoleMode
	queue      []*escalationEntry
	cursor     int
	scroll     int
	note       textinput.Model
	pending    models.Resolution
	status     string
	summary    *models.PipelineSummary
	quitting   bool

	onResolve func(taskID string, res models.Resolution, note string) error

	titleStyle    lipgloss.Style
	headerStyle   lipgloss.Style
	selectedStyle lipgloss.Style
	dimStyle      lipgloss.Style
	passStyle     lipgloss.Style
	failStyle     lipgloss.Style
	promptStyle   lipgloss.Style
}

// NewConsole creates an empty console.
func NewConsole() *Console {
	note := textinput.New()
	note.Placeholder = "optional note for the resolution"
	note.CharLimit = 500
	note.Width = 60

	return &Console{
		width:  80,
		height: 24,
		note:   note,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),
		headerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		passStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")),
		promptStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),
	}
}

// SetResolveHandler sets the callback that applies a resolution. The handler
// runs synchronously; a returned error keeps the escalation queued, except
// AlreadyResolvedError which drops it (another surface answered first).
func (c *Console) SetResolveHandler(handler func(taskID string, res models.Resolution, note string) error) {
	c.onResolve = handler
}

// Pending returns how many escalations are waiting on a decision.
func (c *Console) Pending() int {
	return len(c.queue)
}

// Init implements tea.Model.
func (c *Console) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		c.note.Width = max(20, msg.Width-8)
		return c, nil

	case ApprovalMsg:
		c.enqueue(msg)
		return c, nil

	case SummaryMsg:
		c.summary = msg.Summary
		return c, nil

	case StatusMsg:
		c.status = msg.Text
		return c, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			c.quitting = true
			return c, tea.Quit
		}
		switch c.mode {
		case modeList:
			return c.updateList(msg)
		case modeDetail:
			return c.updateDetail(msg)
		case modeNote:
			return c.updateNote(msg)
		}
	}

	return c, nil
}

// enqueue adds a new escalation unless the same record is already queued.
// At-least-once delivery means duplicates are normal.
func (c *Console) enqueue(msg ApprovalMsg) {
	for _, e := range c.queue {
		if e.escalationID == msg.EscalationID {
			return
		}
	}
	c.queue = append(c.queue, &escalationEntry{
		escalationID: msg.EscalationID,
		taskID:       msg.TaskID,
		componentID:  msg.ComponentID,
		reason:       msg.Reason,
		rejections:   msg.Rejections,
		summary:      msg.Summary,
		history:      msg.History,
		receivedAt:   time.Now(),
	})
	c.status = fmt.Sprintf("task %s needs a decision", msg.TaskID)
}

func (c *Console) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		c.quitting = true
		return c, tea.Quit
	case "up", "k":
		if c.cursor > 0 {
			c.cursor--
		}
	case "down", "j":
		if c.cursor < len(c.queue)-1 {
			c.cursor++
		}
	case "enter", "l":
		if len(c.queue) > 0 {
			c.mode = modeDetail
			c.scroll = 0
		}
	case "r", "y", "n":
		return c.beginResolution(msg.String(), modeList)
	}
	return c, nil
}

func (c *Console) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "h", "q":
		c.mode = modeList
	case "up", "k":
		if c.scroll > 0 {
			c.scroll--
		}
	case "down", "j":
		c.scroll++
	case "home", "g":
		c.scroll = 0
	case "r", "y", "n":
		return c.beginResolution(msg.String(), modeDetail)
	}
	return c, nil
}

func (c *Console) updateNote(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		c.mode = c.returnMode
		c.pending = ""
		c.note.Blur()
		c.note.Reset()
		return c, nil
	case "enter":
		return c.applyResolution()
	}

	var cmd tea.Cmd
	c.note, cmd = c.note.Update(msg)
	return c, cmd
}

// beginResolution remembers the chosen resolution and opens the note field.
func (c *Console) beginResolution(key string, from consoleMode) (tea.Model, tea.Cmd) {
	if len(c.queue) == 0 {
		return c, nil
	}
	switch key {
	case "r":
		c.pending = models.ResolutionRetryReset
	case "y":
		c.pending = models.ResolutionForceAccept
	case "n":
		c.pending = models.ResolutionAbort
	default:
		return c, nil
	}
	c.returnMode = from
	c.mode = modeNote
	c.note.Reset()
	return c, c.note.Focus()
}

// applyResolution calls the resolve handler for the selected escalation.
func (c *Console) applyResolution() (tea.Model, tea.Cmd) {
	entry := c.selected()
	if entry == nil {
		c.mode = modeList
		return c, nil
	}
	note := strings.TrimSpace(c.note.Value())
	res := c.pending
	c.pending = ""
	c.note.Blur()
	c.note.Reset()

	if c.onResolve == nil {
		c.status = "no resolve handler wired; decision not applied"
		c.mode = c.returnMode
		return c, nil
	}

	err := c.onResolve(entry.taskID, res, note)
	switch {
	case err == nil:
		c.remove(entry.escalationID)
		c.status = fmt.Sprintf("task %s resolved: %s, now %s", entry.taskID, res, res.TargetState())
		c.mode = modeList
	case isAlreadyResolved(err):
		c.remove(entry.escalationID)
		c.status = fmt.Sprintf("task %s was already resolved elsewhere", entry.taskID)
		c.mode = modeList
	default:
		c.status = fmt.Sprintf("resolve task %s: %v", entry.taskID, err)
		c.mode = c.returnMode
	}
	return c, nil
}

func isAlreadyResolved(err error) bool {
	var resolved *models.AlreadyResolvedError
	return errors.As(err, &resolved)
}

func (c *Console) selected() *escalationEntry {
	if len(c.queue) == 0 {
		return nil
	}
	if c.cursor >= len(c.queue) {
		c.cursor = len(c.queue) - 1
	}
	return c.queue[c.cursor]
}

func (c *Console) remove(escalationID string) {
	for i, e := range c.queue {
		if e.escalationID == escalationID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	if c.cursor >= len(c.queue) && c.cursor > 0 {
		c.cursor = len(c.queue) - 1
	}
}

// View implements tea.Model.
func (c *Console) View() string {
	if c.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(c.titleStyle.Render(" Escalation Console "))
	sb.WriteString("\n")
	if header := c.summaryLine(); header != "" {
		sb.WriteString(c.dimStyle.Render(header))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	switch c.mode {
	case modeList:
		sb.WriteString(c.viewList())
	case modeDetail:
		sb.WriteString(c.viewDetail())
	case modeNote:
		sb.WriteString(c.viewNote())
	}

	sb.WriteString("\n")
	if c.status != "" {
		sb.WriteString(c.status)
		sb.WriteString("\n")
	}
	sb.WriteString(c.dimStyle.Render(c.hints()))
	return sb.String()
}

func (c *Console) summaryLine() string {
	if c.summary == nil {
		return ""
	}
	s := c.summary
	return fmt.Sprintf("tasks %d | in progress %d | validating %d | escalated %d | completed %d | failed %d",
		s.Total,
		s.ByState[models.TaskStateInProgress],
		s.ByState[models.TaskStateValidating],
		s.ByState[models.TaskStateEscalated],
		s.ByState[models.TaskStateCompleted],
		s.ByState[models.TaskStateFailed])
}

func (c *Console) viewList() string {
	if len(c.queue) == 0 {
		return c.dimStyle.Render("No escalations waiting. Tasks land here after exhausting their retry budget.") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(c.headerStyle.Render(fmt.Sprintf("%d escalation(s) waiting:", len(c.queue))))
	sb.WriteString("\n\n")
	for i, e := range c.queue {
		line := fmt.Sprintf("%s  %s  %s  %d rejections  %s ago",
			e.taskID, e.componentID, e.reason, e.rejections,
			time.Since(e.receivedAt).Round(time.Second))
		if i == c.cursor {
			sb.WriteString(c.selectedStyle.Render("> " + line))
		} else {
			sb.WriteString("  " + line)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (c *Console) viewDetail() string {
	entry := c.selected()
	if entry == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(c.headerStyle.Render("Task: "))
	sb.WriteString(entry.taskID)
	sb.WriteString("\n")
	sb.WriteString(c.headerStyle.Render("Component: "))
	sb.WriteString(entry.componentID)
	sb.WriteString("\n")
	sb.WriteString(c.headerStyle.Render("Reason: "))
	if entry.reason == models.EscalationReasonRepeatedSameFailure {
		sb.WriteString(c.failStyle.Render(string(entry.reason)))
	} else {
		sb.WriteString(string(entry.reason))
	}
	sb.WriteString("\n")
	if entry.summary != "" {
		sb.WriteString(c.dimStyle.Render(entry.summary))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(c.headerStyle.Render(fmt.Sprintf("Attempts (%d):", len(entry.history))))
	sb.WriteString("\n")

	lines := c.attemptLines(entry)
	area := c.height - 14
	if area < 4 {
		area = 4
	}
	if c.scroll > len(lines)-area {
		c.scroll = max(0, len(lines)-area)
	}
	end := min(c.scroll+area, len(lines))
	for _, line := range lines[c.scroll:end] {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if len(lines) > area {
		sb.WriteString(c.dimStyle.Render(fmt.Sprintf("--- %d/%d attempts shown ---", end, len(lines))))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(c.promptStyle.Render(c.resolutionPrompt()))
	sb.WriteString("\n")
	return sb.String()
}

func (c *Console) attemptLines(entry *escalationEntry) []string {
	lines := make([]string, 0, len(entry.history))
	for _, a := range entry.history {
		verdict := c.passStyle.Render("PASS")
		if a.Result == models.VerdictFail {
			verdict = c.failStyle.Render("FAIL")
		}
		line := fmt.Sprintf("  #%d %s by %s", a.AttemptNumber, verdict, a.ValidatorID)
		if a.Feedback != "" {
			line += ": " + a.Feedback
		}
		lines = append(lines, line)
	}
	return lines
}

func (c *Console) viewNote() string {
	entry := c.selected()
	if entry == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(c.headerStyle.Render("Task: "))
	sb.WriteString(entry.taskID)
	sb.WriteString("\n")
	sb.WriteString(c.promptStyle.Render(fmt.Sprintf("Apply %s", c.pending)))
	sb.WriteString("\n\n")

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(max(24, c.width-2))
	sb.WriteString(boxStyle.Render(c.note.View()))
	sb.WriteString("\n")
	return sb.String()
}

// resolutionPrompt names the keys; force-accept completes the task as-is,
// abort fails it permanently.
func (c *Console) resolutionPrompt() string {
	return "[r] retry with fresh budget   [y] force-accept   [n] abort"
}

func (c *Console) hints() string {
	switch c.mode {
	case modeDetail:
		return "(j/k scroll, esc back, r/y/n resolve, ctrl+c quit)"
	case modeNote:
		return "(enter applies, esc cancels)"
	default:
		return "(j/k select, enter inspect, r/y/n resolve, q quit)"
	}
}
