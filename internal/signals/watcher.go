// Package signals bridges filesystem control files into pipeline commands.
//
// A running pipeline owns its process; other processes reach it by dropping
// control files into .arbiter/signals. The CLI's cancel and resolve commands
// write the files, the watcher consumes each one exactly once and applies
// the command it encodes. File names carry the command, file contents carry
// the operator's note.
package signals

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/crewline/arbiter/pkg/models"
)

// Canceller aborts running tasks. The engine implements it.
type Canceller interface {
	Cancel(taskID, reason string) error
}

// Resolver applies escalation decisions. The escalation manager implements it.
type Resolver interface {
	Resolve(taskID string, res models.Resolution, note string) error
}

// Dir returns the signals directory for a project root.
func Dir(root string) string {
	return filepath.Join(root, ".arbiter", "signals")
}

// Watcher consumes control files and applies them to a running pipeline.
type Watcher struct {
	dir      string
	cancel   Canceller
	resolve  Resolver
	notifier *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
}

// New prepares a watcher over the project's signals directory, creating the
// directory if needed.
func New(root string, cancel Canceller, resolve Resolver) (*Watcher, error) {
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start file watcher: %w", err)
	}
	if err := notifier.Add(dir); err != nil {
		notifier.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		cancel:   cancel,
		resolve:  resolve,
		notifier: notifier,
		done:     make(chan struct{}),
	}, nil
}

// Start consumes any control files that predate the watcher, then follows
// new ones as they appear.
func (w *Watcher) Start() {
	w.sweep()
	w.wg.Add(1)
	go w.run()
}

// Stop ends the watch. Already-claimed files finish applying.
func (w *Watcher) Stop() {
	close(w.done)
	w.notifier.Close()
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				w.consume(event.Name)
			}
		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			log.Printf("[signals] watch error: %v", err)
		}
	}
}

// sweep picks up files written before the watch began.
func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("[signals] sweep %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.consume(filepath.Join(w.dir, entry.Name()))
	}
}

// consume parses, claims and applies one control file. Removing the file is
// the claim: Create and Write events for the same file race here, and only
// the remover applies the command.
func (w *Watcher) consume(path string) {
	cmd, ok := parseControlFile(filepath.Base(path))
	if !ok {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		return
	}

	note := strings.TrimSpace(string(content))
	switch cmd.kind {
	case commandCancel:
		reason := note
		if reason == "" {
			reason = "cancelled by operator signal"
		}
		if err := w.cancel.Cancel(cmd.taskID, reason); err != nil {
			log.Printf("[signals] cancel %s: %v", cmd.taskID, err)
			return
		}
		log.Printf("[signals] cancelled task %s", cmd.taskID)
	case commandResolve:
		if err := w.resolve.Resolve(cmd.taskID, cmd.resolution, note); err != nil {
			log.Printf("[signals] resolve %s as %s: %v", cmd.taskID, cmd.resolution, err)
			return
		}
		log.Printf("[signals] resolved task %s as %s", cmd.taskID, cmd.resolution)
	}
}

type commandKind int

const (
	commandCancel commandKind = iota
	commandResolve
)

type command struct {
	kind       commandKind
	taskID     string
	resolution models.Resolution
}

// parseControlFile decodes a control file name. Cancel files are
// cancel-<task-id>; resolution files are resolve-<task-id>-<verb> where the
// verb is the last dash-separated segment, since task ids contain dashes.
func parseControlFile(name string) (command, bool) {
	switch {
	case strings.HasPrefix(name, "cancel-"):
		id := strings.TrimPrefix(name, "cancel-")
		if id == "" {
			return command{}, false
		}
		return command{kind: commandCancel, taskID: id}, true

	case strings.HasPrefix(name, "resolve-"):
		rest := strings.TrimPrefix(name, "resolve-")
		i := strings.LastIndex(rest, "-")
		if i <= 0 || i == len(rest)-1 {
			return command{}, false
		}
		res, ok := ParseVerb(rest[i+1:])
		if !ok {
			return command{}, false
		}
		return command{kind: commandResolve, taskID: rest[:i], resolution: res}, true
	}
	return command{}, false
}

// ParseVerb maps a control-file verb to a resolution.
func ParseVerb(verb string) (models.Resolution, bool) {
	switch verb {
	case "retry":
		return models.ResolutionRetryReset, true
	case "accept":
		return models.ResolutionForceAccept, true
	case "abort":
		return models.ResolutionAbort, true
	default:
		return "", false
	}
}

// Verb returns the control-file verb for a resolution.
func Verb(res models.Resolution) (string, bool) {
	switch res {
	case models.ResolutionRetryReset:
		return "retry", true
	case models.ResolutionForceAccept:
		return "accept", true
	case models.ResolutionAbort:
		return "abort", true
	default:
		return "", false
	}
}

// RequestCancel drops a cancel control file for another process to consume.
// The note becomes the task's failure reason.
func RequestCancel(root, taskID, note string) error {
	if taskID == "" {
		return fmt.Errorf("cancel request needs a task id")
	}
	return writeControlFile(root, "cancel-"+taskID, note)
}

// RequestResolution drops a resolution control file for another process to
// consume.
func RequestResolution(root, taskID string, res models.Resolution, note string) error {
	if taskID == "" {
		return fmt.Errorf("resolution request needs a task id")
	}
	verb, ok := Verb(res)
	if !ok {
		return fmt.Errorf("unknown resolution %q", res)
	}
	return writeControlFile(root, "resolve-"+taskID+"-"+verb, note)
}

func writeControlFile(root, name, note string) error {
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(note), 0o644); err != nil {
		return fmt.Errorf("write control file: %w", err)
	}
	return nil
}
