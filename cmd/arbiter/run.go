package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewline/arbiter/internal/agent"
	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/internal/config"
	"github.com/crewline/arbiter/internal/engine"
	"github.com/crewline/arbiter/internal/escalation"
	"github.com/crewline/arbiter/internal/loop"
	"github.com/crewline/arbiter/internal/registry"
	"github.com/crewline/arbiter/internal/signals"
)

var (
	runPipelinePath string
	runHeadless     bool
	runDebug        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a pipeline",
	Long: `Start the pipeline defined in a YAML file.

Each component becomes a task: a capable producer builds the artifact, a
validator judges it against the component's criteria, and rejected work
retries with the feedback folded into the next attempt. A task that
exhausts its retry budget escalates for a human decision.

By default an interactive escalation console opens; answer there with
r (retry), y (accept) or n (abort). With --headless, events print to
stdout and escalations are answered from another terminal with
'arbiter resolve' or by control files under .arbiter/signals.

Agents come from the configured agents list (see 'arbiter config').
Claude-backed agents need ANTHROPIC_API_KEY, or bedrock.enabled with AWS
credentials. Stub agents run in-process and need nothing.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runPipelinePath, "pipeline", "arbiter.yaml", "Pipeline definition file")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run without the escalation console")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Write engine diagnostics to .arbiter/logs/engine.log")
}

func runPipeline(cmd *cobra.Command, args []string) (retErr error) {
	// Recover from panics and report them
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runPipeline: %v", r)
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if needsLLM(cfg) {
		if err := config.CredentialsReady(cfg); err != nil {
			return fmt.Errorf("%w; set ANTHROPIC_API_KEY or enable bedrock", err)
		}
	}

	pf, err := loadPipeline(runPipelinePath)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	// Task state and the message journal live under .arbiter/.
	db, err := registry.Open(registry.ProjectDBPath(cwd))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	reg := registry.New(db)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("load prior state: %w", err)
	}

	journal, err := bus.OpenJournal(bus.ProjectJournalPath(cwd))
	if err != nil {
		return fmt.Errorf("open message journal: %w", err)
	}
	defer journal.Close()

	b := bus.New(
		bus.WithRedeliveryLimit(cfg.Bus.RedeliveryLimit),
		bus.WithRetryBackoff(cfg.Bus.RetryBackoff),
		bus.WithJournal(journal),
	)

	proxies, err := buildProxies(cfg)
	if err != nil {
		return err
	}

	classes, err := config.LoadTaskClasses(config.ProjectClassesDir(cwd))
	if err != nil {
		return fmt.Errorf("load task classes: %w", err)
	}

	var debugLog *engine.DebugLogger
	if runDebug {
		debugLog = engine.NewDebugLoggerForDir(cwd)
		defer debugLog.Close()
	}

	roster := agent.NewRoster()

	// The engine owns bus shutdown, so its Stop must run after every other
	// subscriber has stopped; deferred calls unwind in that order.
	eng := engine.New(b, reg, roster, engine.Options{
		Classes:          classes,
		WatchdogInterval: cfg.Watchdog.Interval,
		Debug:            debugLog,
	})
	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	dispatcher := agent.NewDispatcher(b, roster)
	defer dispatcher.Close()
	for _, p := range proxies {
		if err := roster.Register(p); err != nil {
			return fmt.Errorf("register agent %s: %w", p.ID(), err)
		}
		if err := dispatcher.Attach(p); err != nil {
			return fmt.Errorf("attach agent %s: %w", p.ID(), err)
		}
	}

	controller := loop.New(b, reg)
	if err := controller.Start(); err != nil {
		return err
	}
	defer controller.Stop()

	manager := escalation.NewManager(b, reg, escalation.Config{
		ResponseTimeout: cfg.Escalation.ResponseTimeout,
	})
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Stop()

	watcher, err := signals.New(cwd, eng, manager)
	if err != nil {
		return fmt.Errorf("create signals watcher: %w", err)
	}
	watcher.Start()
	defer watcher.Stop()

	// Resubmitting a pipeline resumes it: components that already have a
	// task in any state but failed are not submitted twice.
	live := liveComponents(reg.List(nil))
	for _, t := range buildTasks(pf, cfg.Defaults) {
		if live[t.ComponentID] {
			fmt.Printf("component %s already has a task; skipping\n", t.ComponentID)
			continue
		}
		if t.Class != "" && !classes.Has(t.Class) {
			fmt.Printf("component %s: unknown class %q, using the fallback profile (known: %s)\n",
				t.ComponentID, t.Class, strings.Join(classes.Names(), ", "))
		}
		if _, err := eng.Submit(t); err != nil {
			return fmt.Errorf("submit component %s: %w", t.ComponentID, err)
		}
	}
	eng.Kick()

	var runErr error
	if runHeadless {
		fmt.Printf("Pipeline started: %d component(s), %d agent(s)\n\n", len(pf.Components), roster.Count())
		runErr = runHeadlessMode(ctx, b, eng)
	} else {
		runErr = runWithConsole(ctx, b, eng, manager)
	}

	// Events are advisory; the registry stays authoritative when observers lag.
	if n := eng.DroppedEvents(); n > 0 {
		fmt.Printf("note: %d engine event(s) dropped; 'arbiter status' has the full picture\n", n)
	}
	return runErr
}
