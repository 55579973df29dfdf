// Package memory persists conversational history and its consolidated
// summaries, and assembles bounded context excerpts for new turns.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL,
	user_input TEXT NOT NULL,
	final_output TEXT,
	tools_used TEXT DEFAULT '[]',
	outcome TEXT NOT NULL DEFAULT 'done',
	archived BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key, id);

CREATE TABLE IF NOT EXISTS memory_records (
	id TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	content TEXT NOT NULL,
	source_start INTEGER NOT NULL,
	source_end INTEGER NOT NULL,
	tags TEXT DEFAULT '',
	archived BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_records_session ON memory_records(session_key, created_at);

CREATE TABLE IF NOT EXISTS consolidation_cursor (
	session_key TEXT PRIMARY KEY,
	last_turn_id INTEGER NOT NULL DEFAULT 0
);
`

// TurnRecord is one closed turn as stored durably.
type TurnRecord struct {
	ID          int64
	SessionKey  string
	UserInput   string
	FinalOutput string
	ToolsUsed   []string
	Outcome     string
	Archived    bool
	CreatedAt   time.Time
}

// Record is a durable summarized excerpt. Append-only: superseded records
// are archived, never deleted.
type Record struct {
	ID          string
	SessionKey  string
	Content     string
	SourceStart int64
	SourceEnd   int64
	Tags        string
	Archived    bool
	CreatedAt   time.Time
}

// Store is the SQLite-backed memory store.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the memory database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// AppendTurn stores a closed turn and marks it as a consolidation
// candidate. Returns the turn's id.
func (s *Store) AppendTurn(ctx context.Context, turn TurnRecord) (int64, error) {
	toolsJSON, _ := json.Marshal(turn.ToolsUsed)
	if turn.Outcome == "" {
		turn.Outcome = "done"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_key, user_input, final_output, tools_used, outcome) VALUES (?, ?, ?, ?, ?)`,
		turn.SessionKey, turn.UserInput, turn.FinalOutput, string(toolsJSON), turn.Outcome)
	if err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	return res.LastInsertId()
}

// ActiveTurns returns the session's non-archived turns oldest-first.
func (s *Store) ActiveTurns(ctx context.Context, sessionKey string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, user_input, COALESCE(final_output, ''), tools_used, outcome, archived, created_at
		 FROM turns WHERE session_key = ? AND archived = 0 ORDER BY id`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// UnconsolidatedTurns returns the session's turns past the consolidation
// cursor, oldest-first.
func (s *Store) UnconsolidatedTurns(ctx context.Context, sessionKey string) ([]TurnRecord, error) {
	cursor, err := s.Cursor(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, user_input, COALESCE(final_output, ''), tools_used, outcome, archived, created_at
		 FROM turns WHERE session_key = ? AND id > ? AND archived = 0 ORDER BY id`, sessionKey, cursor)
	if err != nil {
		return nil, fmt.Errorf("query unconsolidated turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]TurnRecord, error) {
	var turns []TurnRecord
	for rows.Next() {
		var t TurnRecord
		var toolsJSON string
		if err := rows.Scan(&t.ID, &t.SessionKey, &t.UserInput, &t.FinalOutput, &toolsJSON, &t.Outcome, &t.Archived, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		json.Unmarshal([]byte(toolsJSON), &t.ToolsUsed)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ArchiveTurns marks a closed id range as consolidated. Archived turns
// stay on disk for audit but drop out of retrieval.
func (s *Store) ArchiveTurns(ctx context.Context, sessionKey string, fromID, toID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE turns SET archived = 1 WHERE session_key = ? AND id >= ? AND id <= ?`,
		sessionKey, fromID, toID)
	if err != nil {
		return fmt.Errorf("archive turns: %w", err)
	}
	return nil
}

// InsertRecord stores a new memory record.
func (s *Store) InsertRecord(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (id, session_key, content, source_start, source_end, tags) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionKey, rec.Content, rec.SourceStart, rec.SourceEnd, rec.Tags)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return rec.ID, nil
}

// ActiveRecords returns the session's non-archived records oldest-first.
func (s *Store) ActiveRecords(ctx context.Context, sessionKey string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, content, source_start, source_end, tags, archived, created_at
		 FROM memory_records WHERE session_key = ? AND archived = 0 ORDER BY rowid`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.Content, &r.SourceStart, &r.SourceEnd, &r.Tags, &r.Archived, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ArchiveRecord marks one record as superseded.
func (s *Store) ArchiveRecord(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_records SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive record: %w", err)
	}
	return nil
}

// Cursor returns the id of the last consolidated turn for a session.
func (s *Store) Cursor(ctx context.Context, sessionKey string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_turn_id FROM consolidation_cursor WHERE session_key = ?`, sessionKey).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor advances the consolidation cursor.
func (s *Store) SetCursor(ctx context.Context, sessionKey string, lastTurnID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consolidation_cursor (session_key, last_turn_id) VALUES (?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET last_turn_id = excluded.last_turn_id`,
		sessionKey, lastTurnID)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
