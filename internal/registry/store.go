package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crewline/arbiter/pkg/models"
	_ "modernc.org/sqlite"
)

// DB is the sqlite-backed durability layer beneath the registry. The
// registry writes through on every applied transition and rehydrates from
// here on startup.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".arbiter", "state.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Escalations},
		{3, migrationV3Transitions},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	component_id TEXT NOT NULL,
	class TEXT,
	requires TEXT,
	input TEXT,
	criteria TEXT,
	owner_agent_id TEXT,
	validator_id TEXT,
	state TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	failure_reason TEXT,
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_agent_id);

CREATE TABLE IF NOT EXISTS attempts (
	task_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	attempt_number INTEGER NOT NULL,
	validator_id TEXT NOT NULL,
	result TEXT NOT NULL,
	feedback TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (task_id, seq),
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);
`

const migrationV2Escalations = `
CREATE TABLE IF NOT EXISTS escalations (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	rejection_count INTEGER NOT NULL DEFAULT 0,
	context TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	resolution TEXT,
	note TEXT,
	created_at DATETIME NOT NULL,
	resolved_at DATETIME,
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);

CREATE INDEX IF NOT EXISTS idx_escalations_task ON escalations(task_id);
CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);
`

const migrationV3Transitions = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	reason TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_task ON transitions(task_id);
`

// SaveTask upserts the task row and appends any attempt rows not yet stored.
// Attempt rows are keyed by their position in the history, which never
// shrinks, so INSERT OR IGNORE keeps the write idempotent.
func (db *DB) SaveTask(t *models.Task) error {
	requires, err := json.Marshal(t.Requires)
	if err != nil {
		return fmt.Errorf("marshal requires: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO tasks
			(id, component_id, class, requires, input, criteria, owner_agent_id,
			 validator_id, state, retry_count, max_retries, failure_reason,
			 version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ComponentID, nullable(t.Class), string(requires), nullable(t.Input),
		nullable(t.Criteria), nullable(t.OwnerAgentID), nullable(t.ValidatorID),
		string(t.State), t.RetryCount, t.MaxRetries, nullable(t.FailureReason),
		t.Version, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("upsert task: %w", err)
	}

	for seq, a := range t.Attempts {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO attempts
				(task_id, seq, attempt_number, validator_id, result, feedback, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, t.ID, seq, a.AttemptNumber, a.ValidatorID, string(a.Result),
			nullable(a.Feedback), formatTime(a.Timestamp))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert attempt %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

// LoadTasks returns every stored task with its attempt history.
func (db *DB) LoadTasks() ([]*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, component_id, class, requires, input, criteria,
		       owner_agent_id, validator_id, state, retry_count, max_retries,
		       failure_reason, version, created_at, updated_at
		FROM tasks
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	byID := map[string]*models.Task{}
	for rows.Next() {
		var t models.Task
		var class, requires, input, criteria, owner, validator, reason sql.NullString
		var createdAt, updatedAt string
		err := rows.Scan(&t.ID, &t.ComponentID, &class, &requires, &input, &criteria,
			&owner, &validator, &t.State, &t.RetryCount, &t.MaxRetries,
			&reason, &t.Version, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		t.Class = class.String
		t.Input = input.String
		t.Criteria = criteria.String
		t.OwnerAgentID = owner.String
		t.ValidatorID = validator.String
		t.FailureReason = reason.String
		if requires.Valid && requires.String != "" && requires.String != "null" {
			if err := json.Unmarshal([]byte(requires.String), &t.Requires); err != nil {
				return nil, fmt.Errorf("unmarshal requires for %s: %w", t.ID, err)
			}
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", t.ID, err)
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", t.ID, err)
		}

		tasks = append(tasks, &t)
		byID[t.ID] = &t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	attempts, err := db.conn.Query(`
		SELECT task_id, attempt_number, validator_id, result, feedback, created_at
		FROM attempts
		ORDER BY task_id, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer attempts.Close()

	for attempts.Next() {
		var taskID, result, createdAt string
		var feedback sql.NullString
		var a models.ValidationAttempt
		if err := attempts.Scan(&taskID, &a.AttemptNumber, &a.ValidatorID, &result, &feedback, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Result = models.Verdict(result)
		a.Feedback = feedback.String
		if a.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse attempt time: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.Attempts = append(t.Attempts, a)
		}
	}
	return tasks, attempts.Err()
}

// SaveEscalation upserts one escalation record.
func (db *DB) SaveEscalation(e *models.Escalation) error {
	context, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	var resolvedAt any
	if e.ResolvedAt != nil {
		resolvedAt = formatTime(*e.ResolvedAt)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.conn.Exec(`
		INSERT OR REPLACE INTO escalations
			(id, task_id, reason, rejection_count, context, status, resolution,
			 note, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TaskID, string(e.Reason), e.RejectionCount, string(context),
		string(e.Status), nullable(string(e.Resolution)), nullable(e.Note),
		formatTime(e.CreatedAt), resolvedAt)
	if err != nil {
		return fmt.Errorf("upsert escalation: %w", err)
	}
	return nil
}

// LoadEscalations returns every stored escalation, oldest first.
func (db *DB) LoadEscalations() ([]*models.Escalation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, task_id, reason, rejection_count, context, status,
		       resolution, note, created_at, resolved_at
		FROM escalations
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	var escalations []*models.Escalation
	for rows.Next() {
		var e models.Escalation
		var context, resolution, note, resolvedAt sql.NullString
		var createdAt string
		err := rows.Scan(&e.ID, &e.TaskID, &e.Reason, &e.RejectionCount, &context,
			&e.Status, &resolution, &note, &createdAt, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}

		e.Resolution = models.Resolution(resolution.String)
		e.Note = note.String
		if context.Valid && context.String != "" {
			if err := json.Unmarshal([]byte(context.String), &e.Context); err != nil {
				return nil, fmt.Errorf("unmarshal context for %s: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", e.ID, err)
		}
		e.ResolvedAt = parseNullableTime(resolvedAt)

		escalations = append(escalations, &e)
	}
	return escalations, rows.Err()
}

// RecordTransition appends one row to the transition audit trail.
func (db *DB) RecordTransition(taskID string, from, to models.TaskState, reason string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO transitions (task_id, from_state, to_state, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, string(from), string(to), nullable(reason), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// TransitionRecord is one audit row.
type TransitionRecord struct {
	// TaskID is the task that moved.
	TaskID string
	// From is the state before the transition.
	From models.TaskState
	// To is the state after the transition.
	To models.TaskState
	// Reason is optional context (failure reason, resolution note).
	Reason string
	// CreatedAt is when the transition was applied.
	CreatedAt time.Time
}

// ListTransitions returns the audit trail for one task, oldest first.
func (db *DB) ListTransitions(taskID string) ([]TransitionRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT task_id, from_state, to_state, reason, created_at
		FROM transitions
		WHERE task_id = ?
		ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		var reason sql.NullString
		var createdAt string
		if err := rows.Scan(&r.TaskID, &r.From, &r.To, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		r.Reason = reason.String
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// nullable maps empty strings to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

var _ Store = (*DB)(nil)
