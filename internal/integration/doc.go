// Package integration provides cross-package integration tests for arbiter.
// These tests wire the full orchestration stack together and drive tasks
// through it: message bus, sqlite-backed registry, roster and dispatcher,
// validation loop, escalation manager and engine.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
