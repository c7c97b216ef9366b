package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// StartRun admits a new Run for a project, enforcing the one-active-run
// invariant (spec.md §3 Run, §4.4 "One-per-project"). Fails with
// Conflict if another Run is already starting/running/paused/cancelling.
func (s *Store) StartRun(projectID string, kind RunKind, featureID, modelID string) (*Run, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	active, err := s.activeRunUnlocked(projectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("project %q already has an active run (%s)", projectID, active.ID))
	}

	now := time.Now().UTC()
	r := &Run{
		ID:        newID(),
		ProjectID: projectID,
		Kind:      kind,
		FeatureID: featureID,
		Status:    RunStarting,
		ModelID:   modelID,
		StartedAt: now,
	}

	_, err = s.hooks.exec(s.db, `INSERT INTO runs (id, project_id, kind, feature_id, pid, status, model_id, started_at, finished_at, exit_reason)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, NULL, '')`,
		r.ID, r.ProjectID, r.Kind, r.FeatureID, r.Status, r.ModelID, fmtTime(now))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "starting run", err)
	}
	return r, nil
}

// SetRunStatus updates a Run's status and PID. The orchestrator is the
// sole mutator of Run.status (spec.md §3).
func (s *Store) SetRunStatus(runID string, status RunStatus, pid int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.hooks.exec(s.db, `UPDATE runs SET status = ?, pid = ? WHERE id = ?`, status, pid, runID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "updating run status", err)
	}
	return nil
}

// FinishRun marks a Run terminal and releases the project's active-run
// slot (spec.md §4.4 Reap).
func (s *Store) FinishRun(runID string, status RunStatus, reason ExitReason) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	_, err := s.hooks.exec(s.db, `UPDATE runs SET status = ?, exit_reason = ?, finished_at = ? WHERE id = ?`,
		status, reason, fmtTime(now), runID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "finishing run", err)
	}
	return nil
}

// GetRun looks up a Run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT id, project_id, kind, feature_id, pid, status, model_id, started_at, finished_at, exit_reason
		FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("run %q not found", runID))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "getting run", err)
	}
	return &r, nil
}

// GetActiveRun returns the project's current non-terminal Run, or nil.
func (s *Store) GetActiveRun(projectID string) (*Run, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.activeRunUnlocked(projectID)
}

func (s *Store) activeRunUnlocked(projectID string) (*Run, error) {
	rows, err := s.db.Query(`SELECT id, project_id, kind, feature_id, pid, status, model_id, started_at, finished_at, exit_reason
		FROM runs WHERE project_id = ? AND status IN ('starting','running','paused','cancelling')
		ORDER BY started_at DESC LIMIT 1`, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "checking active run", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	r, err := scanRun(rows)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "scanning run", err)
	}
	return &r, nil
}

// ListRuns returns every Run for a project, most recent first.
func (s *Store) ListRuns(projectID string) ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, project_id, kind, feature_id, pid, status, model_id, started_at, finished_at, exit_reason
		FROM runs WHERE project_id = ? ORDER BY started_at DESC`, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scanning run", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func scanRun(row rowOrRows) (Run, error) {
	var r Run
	var started string
	var finished sql.NullString
	err := row.Scan(&r.ID, &r.ProjectID, &r.Kind, &r.FeatureID, &r.PID, &r.Status, &r.ModelID, &started, &finished, &r.ExitReason)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339, started)
	if finished.Valid {
		t, _ := time.Parse(time.RFC3339, finished.String)
		r.FinishedAt = &t
	}
	return r, nil
}
