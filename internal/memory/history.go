package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// History is the append-only mutation log described in spec §4.M6, ported
// from the original mem0-rust HistoryManager (history/sqlite.rs) onto the
// same database/sql + mattn/go-sqlite3 idiom this module's scheduler store
// already uses.
type History struct {
	db *sql.DB
}

const historySchemaSQL = `
CREATE TABLE IF NOT EXISTS history (
	id               TEXT PRIMARY KEY,
	memory_id        TEXT NOT NULL,
	previous_content TEXT NOT NULL DEFAULT '',
	new_content      TEXT NOT NULL DEFAULT '',
	event            TEXT NOT NULL,
	timestamp        TEXT NOT NULL,
	user_id          TEXT NOT NULL DEFAULT '',
	agent_id         TEXT NOT NULL DEFAULT '',
	run_id           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_memory_id ON history(memory_id, timestamp DESC);
`

// OpenHistory opens (creating if absent) the history log at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, wrapErr(ErrHistory, "open history db at "+path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(historySchemaSQL); err != nil {
		db.Close()
		return nil, wrapErr(ErrHistory, "create history schema", err)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

// Add appends one history entry, mirroring HistoryManager::add_history.
func (h *History) Add(ctx context.Context, e HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO history (id, memory_id, previous_content, new_content, event, timestamp, user_id, agent_id, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MemoryID, e.PreviousContent, e.NewContent, string(e.Event),
		e.Timestamp.Format(time.RFC3339Nano), e.UserID, e.AgentID, e.RunID,
	)
	if err != nil {
		return wrapErr(ErrHistory, "insert history entry for "+e.MemoryID, err)
	}
	return nil
}

// For returns every history entry for a memory ID, most recent first,
// mirroring HistoryManager::get_history.
func (h *History) For(ctx context.Context, memoryID string) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, memory_id, previous_content, new_content, event, timestamp, user_id, agent_id, run_id
		FROM history WHERE memory_id = ? ORDER BY timestamp DESC`, memoryID)
	if err != nil {
		return nil, wrapErr(ErrHistory, "query history for "+memoryID, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var ts string
		var event string
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.PreviousContent, &e.NewContent, &event, &ts, &e.UserID, &e.AgentID, &e.RunID); err != nil {
			return nil, wrapErr(ErrHistory, "scan history row", err)
		}
		e.Event = EventType(event)
		parsed, perr := time.Parse(time.RFC3339Nano, ts)
		if perr != nil {
			return nil, wrapErr(ErrHistory, fmt.Sprintf("parse history timestamp %q", ts), perr)
		}
		e.Timestamp = parsed
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reset deletes every history entry, mirroring HistoryManager::reset. Used
// only by tests and explicit maintenance operations.
func (h *History) Reset(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return wrapErr(ErrHistory, "reset history", err)
	}
	return nil
}
