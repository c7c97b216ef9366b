package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// openDB is a package-level var to allow test injection, matching the
// teacher's internal/memory/store.go convention.
var openDB = sql.Open

// storeHooks mirrors the teacher's indirection layer: tests can swap
// exec/query/tx behavior to simulate a failing driver without a mocking
// framework.
type storeHooks struct {
	exec  func(db execer, query string, args ...any) (sql.Result, error)
	query func(db queryer, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
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

// Store is the SQLite-backed Registry Store. Mutating calls are
// serialized through writeMu, matching spec.md §4.1's "single
// coordinating scope"; reads go straight to the pooled connection.
type Store struct {
	db      *sql.DB
	hooks   storeHooks
	writeMu sync.Mutex
}

// Config configures where the registry.db file lives.
type Config struct {
	DataDir string
}

// Open creates or opens the registry database at cfg.DataDir/registry.db
// and runs migrations.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "registry: create data dir", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "registry.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "registry: open database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, apperr.Wrap(apperr.Internal, fmt.Sprintf("registry: pragma %q", p), err)
		}
	}

	s := &Store{db: db, hooks: defaultStoreHooks()}
	if err := s.migrate(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "registry: migration", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- Migrations ---
//
// migrate() is idempotent (CREATE TABLE IF NOT EXISTS), matching the
// teacher's memory.Store.migrate(); a schema_migrations table tracks
// applied numbered steps so future schema changes can append rather
// than re-run the whole DDL block (spec.md §6 "versioned migrations
// must be supported").

type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	{1, `
		CREATE TABLE IF NOT EXISTS projects (
			id                        TEXT PRIMARY KEY,
			name                      TEXT NOT NULL UNIQUE,
			workspace_path            TEXT NOT NULL,
			spec_version              INTEGER NOT NULL DEFAULT 0,
			agent_model_id            TEXT NOT NULL DEFAULT '',
			agent_yolo_mode           INTEGER NOT NULL DEFAULT 0,
			agent_require_tdd         INTEGER NOT NULL DEFAULT 0,
			agent_env_config_policy   INTEGER NOT NULL DEFAULT 1,
			agent_locked              INTEGER NOT NULL DEFAULT 0,
			created_at                TEXT NOT NULL,
			updated_at                TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS spec_artifacts (
			project_id     TEXT NOT NULL,
			version_id     INTEGER NOT NULL,
			source_text    TEXT NOT NULL,
			diff_from_prev TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			PRIMARY KEY (project_id, version_id),
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE TABLE IF NOT EXISTS features (
			id            TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL,
			ordinal       INTEGER NOT NULL,
			title         TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			category      TEXT NOT NULL,
			status        TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error    TEXT NOT NULL DEFAULT '',
			depends_on    TEXT NOT NULL DEFAULT '[]',
			claimed_by_run_id TEXT NOT NULL DEFAULT '',
			summary       TEXT NOT NULL DEFAULT '',
			artifacts     TEXT NOT NULL DEFAULT '[]',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			UNIQUE (project_id, ordinal),
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_features_project_status ON features(project_id, status);

		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			kind        TEXT NOT NULL,
			feature_id  TEXT NOT NULL DEFAULT '',
			pid         INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			model_id    TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			finished_at TEXT,
			exit_reason TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_project_status ON runs(project_id, status);

		CREATE TABLE IF NOT EXISTS redesign_sessions (
			id                 TEXT PRIMARY KEY,
			project_id         TEXT NOT NULL,
			status             TEXT NOT NULL,
			style_brief        TEXT NOT NULL DEFAULT '',
			extracted_tokens   TEXT,
			change_plan        TEXT,
			framework_detected TEXT NOT NULL DEFAULT '',
			phase_approvals    TEXT NOT NULL DEFAULT '{}',
			created_at         TEXT NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_redesign_project_status ON redesign_sessions(project_id, status);

		CREATE TABLE IF NOT EXISTS redesign_references (
			id                 TEXT PRIMARY KEY,
			session_id         TEXT NOT NULL,
			type               TEXT NOT NULL,
			payload            BLOB NOT NULL,
			filename           TEXT NOT NULL DEFAULT '',
			original_url       TEXT NOT NULL DEFAULT '',
			page_identifier    TEXT NOT NULL DEFAULT '',
			component_manifest TEXT,
			FOREIGN KEY (session_id) REFERENCES redesign_sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_references_session ON redesign_references(session_id);
	`},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return err
	}

	applied := map[int]bool{}
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if _, err := s.db.Exec(m.stmt); err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, nowRFC3339()); err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
	}
	return nil
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func newID() string { return uuid.NewString() }

// --- Projects ---

// CreateProject inserts a new Project. Fails with Conflict if the name
// is already taken.
func (s *Store) CreateProject(name, workspacePath string, settings AgentSettings) (*Project, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	p := &Project{
		ID:            newID(),
		Name:          name,
		WorkspacePath: workspacePath,
		SpecVersion:   0,
		AgentSettings: settings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.hooks.exec(s.db, `
		INSERT INTO projects (id, name, workspace_path, spec_version,
			agent_model_id, agent_yolo_mode, agent_require_tdd, agent_env_config_policy, agent_locked,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.WorkspacePath, p.SpecVersion,
		settings.ModelID, boolToInt(settings.YoloMode), boolToInt(settings.RequireTDD),
		boolToInt(settings.EnvConfigPolicy), boolToInt(settings.Locked),
		fmtTime(now), fmtTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.Conflict, fmt.Sprintf("project %q already exists", name), err)
		}
		return nil, apperr.Wrap(apperr.Internal, "creating project", err)
	}
	return p, nil
}

// DeleteProject removes a Project and its owned rows. Fails with
// InvariantViolation if any Run still references it with non-terminal
// status (a Feature may not be deleted while a Run references it,
// generalized here to the whole project).
func (s *Store) DeleteProject(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	active, err := s.activeRunUnlocked(id)
	if err != nil {
		return err
	}
	if active != nil {
		return apperr.New(apperr.InvariantViolation, "cannot delete project with an active run")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin tx", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM redesign_references WHERE session_id IN (SELECT id FROM redesign_sessions WHERE project_id = ?)`,
		`DELETE FROM redesign_sessions WHERE project_id = ?`,
		`DELETE FROM runs WHERE project_id = ?`,
		`DELETE FROM features WHERE project_id = ?`,
		`DELETE FROM spec_artifacts WHERE project_id = ?`,
		`DELETE FROM projects WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return apperr.Wrap(apperr.Internal, "deleting project rows", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Internal, "commit", err)
	}
	return nil
}

// ListProjects returns every Project, ordered by name.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT id, name, workspace_path, spec_version,
		agent_model_id, agent_yolo_mode, agent_require_tdd, agent_env_config_policy, agent_locked,
		created_at, updated_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scanning project", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GetProjectByName looks up a Project by its unique name.
func (s *Store) GetProjectByName(name string) (*Project, error) {
	row := s.db.QueryRow(`SELECT id, name, workspace_path, spec_version,
		agent_model_id, agent_yolo_mode, agent_require_tdd, agent_env_config_policy, agent_locked,
		created_at, updated_at FROM projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("project %q not found", name))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "getting project", err)
	}
	return &p, nil
}

// GetProject looks up a Project by id.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`SELECT id, name, workspace_path, spec_version,
		agent_model_id, agent_yolo_mode, agent_require_tdd, agent_env_config_policy, agent_locked,
		created_at, updated_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("project %q not found", id))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "getting project", err)
	}
	return &p, nil
}

type rowOrRows interface {
	Scan(dest ...any) error
}

func scanProject(row rowOrRows) (Project, error) {
	var p Project
	var yolo, tdd, envPolicy, locked int
	var created, updated string
	err := row.Scan(&p.ID, &p.Name, &p.WorkspacePath, &p.SpecVersion,
		&p.AgentSettings.ModelID, &yolo, &tdd, &envPolicy, &locked,
		&created, &updated)
	if err != nil {
		return Project{}, err
	}
	p.AgentSettings.YoloMode = yolo != 0
	p.AgentSettings.RequireTDD = tdd != 0
	p.AgentSettings.EnvConfigPolicy = envPolicy != 0
	p.AgentSettings.Locked = locked != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return p, nil
}

// UpdateAgentSettings mutates a project's AgentSettings. Fails with
// InvariantViolation if the settings are currently locked (an active
// run owns them per spec.md §4.9).
func (s *Store) UpdateAgentSettings(projectID string, settings AgentSettings) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.GetProject(projectID)
	if err != nil {
		return err
	}
	if current.AgentSettings.Locked && !settings.Locked {
		// allow explicit unlock, otherwise reject mutation while locked
	} else if current.AgentSettings.Locked {
		return apperr.New(apperr.InvariantViolation, "agent settings are locked by an active run")
	}

	_, err = s.hooks.exec(s.db, `UPDATE projects SET
		agent_model_id = ?, agent_yolo_mode = ?, agent_require_tdd = ?,
		agent_env_config_policy = ?, agent_locked = ?, updated_at = ?
		WHERE id = ?`,
		settings.ModelID, boolToInt(settings.YoloMode), boolToInt(settings.RequireTDD),
		boolToInt(settings.EnvConfigPolicy), boolToInt(settings.Locked), fmtTime(time.Now().UTC()), projectID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "updating agent settings", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
}

// --- marshalling helpers for JSON columns ---

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalJSON[T any](s string, out *T) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}
