package bus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crewline/arbiter/pkg/models"
	_ "github.com/mattn/go-sqlite3"
)

// Journal persists every published envelope to its own sqlite database so
// bus traffic can be audited after the fact (arbiter status --messages).
// It sits off the delivery path; a failed insert is logged, never fatal.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// JournalEntry is one recorded envelope.
type JournalEntry struct {
	// ID is the message id.
	ID string
	// Type is the message type.
	Type models.MessageType
	// SenderID is who published the message.
	SenderID string
	// RecipientID is the exact-match recipient, if any.
	RecipientID string
	// RecipientRole is the broadcast role, if any.
	RecipientRole string
	// TaskID is the correlation key.
	TaskID string
	// Payload is the JSON-encoded typed payload.
	Payload string
	// CreatedAt is the sender's timestamp.
	CreatedAt time.Time
}

// ProjectJournalPath returns the path to the project-local message journal.
func ProjectJournalPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".arbiter", "journal.db")
}

// OpenJournal opens (or creates) the journal database at path, creating
// parent directories as needed.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			recipient_id TEXT,
			recipient_role TEXT,
			task_id TEXT,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record inserts one envelope. Duplicate ids are ignored so redundant
// publishes of the same message stay idempotent here too.
func (j *Journal) Record(msg *models.Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.Exec(`
		INSERT OR IGNORE INTO messages
			(id, type, sender_id, sender_role, recipient_id, recipient_role, task_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, string(msg.Type), msg.SenderID, string(msg.SenderRole),
		msg.RecipientID, string(msg.RecipientRole), msg.TaskID,
		string(payload), msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(`
		SELECT id, type, sender_id, recipient_id, recipient_role, task_id, payload, created_at
		FROM messages
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var recipientID, recipientRole, taskID sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.SenderID, &recipientID, &recipientRole, &taskID, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.RecipientID = recipientID.String
		e.RecipientRole = recipientRole.String
		e.TaskID = taskID.String
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TaskHistory returns every recorded envelope for one task in send order.
func (j *Journal) TaskHistory(taskID string) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(`
		SELECT id, type, sender_id, recipient_id, recipient_role, task_id, payload, created_at
		FROM messages
		WHERE task_id = ?
		ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task messages: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var recipientID, recipientRole, task sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.SenderID, &recipientID, &recipientRole, &task, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.RecipientID = recipientID.String
		e.RecipientRole = recipientRole.String
		e.TaskID = task.String
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

var _ Recorder = (*Journal)(nil)
