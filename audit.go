package botbox

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver for database/sql (used by AuditStore).
	_ "github.com/glebarez/sqlite"
)

// AuditStore persists every message emitted by sandboxed runs, so operators
// can reconstruct what an untrusted script did after the fact. Optional; a
// nil store disables auditing entirely.
type AuditStore struct {
	db *sql.DB
}

// AuditEntry is one recorded message row.
type AuditEntry struct {
	RunID   int64
	Kind    MessageKind
	Text    string
	Created time.Time
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS run_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_run_messages_run ON run_messages(run_id);
`

// OpenAuditStore opens (or creates) the audit database under dataDir.
func OpenAuditStore(dataDir string) (*AuditStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "audit.sqlite3")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	// Enable WAL mode for better concurrent access.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// NewAuditStoreMemory creates an in-memory audit store for testing.
func NewAuditStoreMemory() (*AuditStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory audit database: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Record stores one message. Failures are swallowed: auditing must never
// affect the run that produced the message.
func (a *AuditStore) Record(runID int64, m Message) {
	text := m.Text
	if m.Kind == MessageTerminated {
		text = m.Reason.String()
	}
	_, _ = a.db.Exec(
		"INSERT INTO run_messages (run_id, kind, text) VALUES (?, ?, ?)",
		runID, int(m.Kind), text,
	)
}

// Recent returns up to limit messages for a run, oldest first.
func (a *AuditStore) Recent(runID int64, limit int) ([]AuditEntry, error) {
	rows, err := a.db.Query(
		"SELECT run_id, kind, text, created_at FROM run_messages WHERE run_id = ? ORDER BY id LIMIT ?",
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var kind int
		if err := rows.Scan(&e.RunID, &kind, &e.Text, &e.Created); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.Kind = MessageKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (a *AuditStore) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
