// Package runlog implements the Run Log store: the durable, searchable
// record of everything a Run emits, plus the tail-buffer persistence the
// Event Bus uses to replay recent topic activity to a newly-subscribed
// client.
//
// Adapted from the teacher's internal/memory/store.go FTS5 idiom — same
// SQLite-backed full-text-search-over-append-only-rows shape, regrown
// from a session/observation/knowledge-graph domain onto Run log lines
// and Event Bus envelopes.
package runlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection, matching the
// teacher's convention.
var openDB = sql.Open

// Stream identifies which subprocess stream a LogEntry came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamTool   Stream = "tool" // MCP tool call/response framed as a log line
	StreamSystem Stream = "system"
)

// LogEntry is one line (or framed event) appended to a Run's log.
type LogEntry struct {
	ID        int64
	RunID     string
	Seq       int64
	Stream    Stream
	Content   string
	CreatedAt time.Time
}

// SearchResult embeds a LogEntry with its FTS5 rank score.
type SearchResult struct {
	LogEntry
	Rank float64
}

// EventRecord is one persisted Event Bus envelope, kept so a late
// subscriber can replay the tail of a topic (spec.md §4.6 "tail-buffer
// replay").
type EventRecord struct {
	ID        int64
	Topic     string
	Seq       int64
	Payload   []byte
	CreatedAt time.Time
}

// Config holds runlog store configuration.
type Config struct {
	DataDir string
	// TailBufferSize bounds how many EventRecords are retained per topic;
	// older rows are pruned on each append.
	TailBufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(dataDir string) Config {
	return Config{DataDir: dataDir, TailBufferSize: 200}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec  func(db execer, query string, args ...any) (sql.Result, error)
	query func(db queryer, query string, args ...any) (*sql.Rows, error)
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(db execer, query string, args ...any) (sql.Result, error) {
			return db.Exec(query, args...)
		},
		query: func(db queryer, query string, args ...any) (*sql.Rows, error) {
			return db.Query(query, args...)
		},
	}
}

// Store is the SQLite + FTS5 backed Run Log store.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

// New creates or opens the runlog database and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.TailBufferSize <= 0 {
		cfg.TailBufferSize = 200
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "runlog.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("runlog: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("runlog: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg, hooks: defaultStoreHooks()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("runlog: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS log_entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT    NOT NULL,
			seq        INTEGER NOT NULL,
			stream     TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_log_run_seq ON log_entries(run_id, seq);
		CREATE INDEX IF NOT EXISTS idx_log_run_created ON log_entries(run_id, created_at);

		CREATE VIRTUAL TABLE IF NOT EXISTS log_entries_fts USING fts5(
			content,
			content='log_entries',
			content_rowid='id'
		);

		CREATE TABLE IF NOT EXISTS event_records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			topic      TEXT    NOT NULL,
			seq        INTEGER NOT NULL,
			payload    BLOB    NOT NULL,
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_event_topic_seq ON event_records(topic, seq);
	`
	if _, err := s.hooks.exec(s.db, schema); err != nil {
		return err
	}

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='log_fts_insert'",
	).Scan(&name)
	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER log_fts_insert AFTER INSERT ON log_entries BEGIN
				INSERT INTO log_entries_fts(rowid, content) VALUES (new.id, new.content);
			END;

			CREATE TRIGGER log_fts_delete AFTER DELETE ON log_entries BEGIN
				INSERT INTO log_entries_fts(log_entries_fts, rowid, content) VALUES ('delete', old.id, old.content);
			END;
		`
		if _, err := s.hooks.exec(s.db, triggers); err != nil {
			return err
		}
	}
	return nil
}

// Append records one LogEntry for a Run. Seq must be monotonically
// increasing per run_id (the Event Bus assigns it); a duplicate seq is
// silently ignored so a retried delivery cannot double-log a line.
func (s *Store) Append(runID string, seq int64, stream Stream, content string) (*LogEntry, error) {
	now := time.Now().UTC()
	res, err := s.hooks.exec(s.db,
		`INSERT OR IGNORE INTO log_entries (run_id, seq, stream, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, stream, content, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("runlog: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// duplicate seq: return the existing row
		return s.getByRunSeq(runID, seq)
	}
	return &LogEntry{ID: id, RunID: runID, Seq: seq, Stream: stream, Content: content, CreatedAt: now}, nil
}

func (s *Store) getByRunSeq(runID string, seq int64) (*LogEntry, error) {
	row := s.db.QueryRow(`SELECT id, run_id, seq, stream, content, created_at FROM log_entries WHERE run_id = ? AND seq = ?`, runID, seq)
	return scanLogEntry(row)
}

func scanLogEntry(row interface{ Scan(dest ...any) error }) (*LogEntry, error) {
	var e LogEntry
	var created string
	if err := row.Scan(&e.ID, &e.RunID, &e.Seq, &e.Stream, &e.Content, &created); err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &e, nil
}

// Tail returns the last n LogEntries for a Run in chronological order
// (n defaults to 100 when not positive). Cursor reads go through Since.
func (s *Store) Tail(runID string, n int) ([]LogEntry, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.hooks.query(s.db,
		`SELECT id, run_id, seq, stream, content, created_at FROM log_entries
		 WHERE run_id = ? ORDER BY seq DESC LIMIT ?`, runID, n)
	if err != nil {
		return nil, fmt.Errorf("runlog: tail: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Since returns every LogEntry for a Run with seq > afterSeq, in order —
// used for incremental polling by a reattaching client.
func (s *Store) Since(runID string, afterSeq int64) ([]LogEntry, error) {
	rows, err := s.hooks.query(s.db,
		`SELECT id, run_id, seq, stream, content, created_at FROM log_entries
		 WHERE run_id = ? AND seq > ? ORDER BY seq ASC`, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("runlog: since: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Search performs full-text search across a Run's log content.
func (s *Store) Search(runID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		entries, err := s.Tail(runID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]SearchResult, len(entries))
		for i, e := range entries {
			out[i] = SearchResult{LogEntry: e}
		}
		return out, nil
	}

	rows, err := s.hooks.query(s.db, `
		SELECT l.id, l.run_id, l.seq, l.stream, l.content, l.created_at, fts.rank
		FROM log_entries_fts fts
		JOIN log_entries l ON l.id = fts.rowid
		WHERE log_entries_fts MATCH ? AND l.run_id = ?
		ORDER BY fts.rank LIMIT ?`, ftsQuery, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var sr SearchResult
		var created string
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Seq, &sr.Stream, &sr.Content, &created, &sr.Rank); err != nil {
			return nil, err
		}
		sr.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, sr)
	}
	return out, rows.Err()
}

// --- Event Bus tail-buffer persistence ---

// AppendEvent persists one Event Bus envelope and prunes rows beyond
// cfg.TailBufferSize for that topic, so replay to a new subscriber is
// bounded regardless of topic volume.
func (s *Store) AppendEvent(topic string, seq int64, payload []byte) error {
	if _, err := s.hooks.exec(s.db,
		`INSERT INTO event_records (topic, seq, payload, created_at) VALUES (?, ?, ?, ?)`,
		topic, seq, payload, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("runlog: append event: %w", err)
	}

	_, err := s.hooks.exec(s.db, `
		DELETE FROM event_records WHERE topic = ? AND id NOT IN (
			SELECT id FROM event_records WHERE topic = ? ORDER BY seq DESC LIMIT ?
		)`, topic, topic, s.cfg.TailBufferSize)
	if err != nil {
		return fmt.Errorf("runlog: pruning tail buffer: %w", err)
	}
	return nil
}

// TailEvents returns the buffered events for a topic in chronological
// order, for replay to a newly-attached subscriber.
func (s *Store) TailEvents(topic string) ([]EventRecord, error) {
	rows, err := s.hooks.query(s.db,
		`SELECT id, topic, seq, payload, created_at FROM event_records WHERE topic = ? ORDER BY seq ASC`, topic)
	if err != nil {
		return nil, fmt.Errorf("runlog: tail events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var created string
		if err := rows.Scan(&e.ID, &e.Topic, &e.Seq, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func sanitizeFTS(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}
	// Quote the whole query as a phrase so FTS5 special characters in
	// free-form log text (", -, *) don't break the MATCH syntax.
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}
