package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// ReplaceFeatures atomically replaces a project's entire feature backlog.
// Its caller is the replace_features MCP tool (the initializer's
// bootstrap write). It does not check the project's run phase: a call
// made after INITIALIZING has completed replaces the backlog as well.
func (s *Store) ReplaceFeatures(projectID string, features []Feature) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, f := range features {
		if !ValidCategories[f.Category] {
			return apperr.New(apperr.InvariantViolation, fmt.Sprintf("invalid category %q", f.Category))
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM features WHERE project_id = ?`, projectID); err != nil {
		return apperr.Wrap(apperr.Internal, "clearing features", err)
	}

	now := fmtTime(time.Now().UTC())
	for _, f := range features {
		id := f.ID
		if id == "" {
			id = newID()
		}
		status := f.Status
		if status == "" {
			status = FeaturePending
		}
		if _, err := tx.Exec(`INSERT INTO features
			(id, project_id, ordinal, title, description, category, status, attempt_count, last_error, depends_on, claimed_by_run_id, summary, artifacts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', '[]', ?, ?)`,
			id, projectID, f.Ordinal, f.Title, f.Description, f.Category, status,
			f.AttemptCount, f.LastError, marshalJSON(f.DependsOn), now, now); err != nil {
			return apperr.Wrap(apperr.Internal, "inserting feature", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Internal, "commit", err)
	}
	return nil
}

// AppendFeatures appends new pending Features after the existing
// backlog, preserving prior ordinals (spec.md §4.2, spec-update path).
func (s *Store) AppendFeatures(projectID string, features []Feature) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var maxOrdinal int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(ordinal), -1) FROM features WHERE project_id = ?`, projectID).Scan(&maxOrdinal); err != nil {
		return apperr.Wrap(apperr.Internal, "reading max ordinal", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "begin tx", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now().UTC())
	for i, f := range features {
		if !ValidCategories[f.Category] {
			return apperr.New(apperr.InvariantViolation, fmt.Sprintf("invalid category %q", f.Category))
		}
		id := f.ID
		if id == "" {
			id = newID()
		}
		ordinal := maxOrdinal + 1 + i
		if _, err := tx.Exec(`INSERT INTO features
			(id, project_id, ordinal, title, description, category, status, attempt_count, last_error, depends_on, claimed_by_run_id, summary, artifacts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?, '', '', '[]', ?, ?)`,
			id, projectID, ordinal, f.Title, f.Description, f.Category, FeaturePending,
			marshalJSON(f.DependsOn), now, now); err != nil {
			return apperr.Wrap(apperr.Internal, "inserting feature", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Internal, "commit", err)
	}
	return nil
}

// ListFeatures returns every Feature for a project, ordered by ordinal.
func (s *Store) ListFeatures(projectID string) ([]Feature, error) {
	rows, err := s.db.Query(`SELECT id, project_id, ordinal, title, description, category, status,
		attempt_count, last_error, depends_on, claimed_by_run_id, summary, artifacts, created_at, updated_at
		FROM features WHERE project_id = ? ORDER BY ordinal ASC`, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing features", err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scanning feature", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// GetFeature looks up a Feature by id within a project.
func (s *Store) GetFeature(projectID, featureID string) (*Feature, error) {
	row := s.db.QueryRow(`SELECT id, project_id, ordinal, title, description, category, status,
		attempt_count, last_error, depends_on, claimed_by_run_id, summary, artifacts, created_at, updated_at
		FROM features WHERE project_id = ? AND id = ?`, projectID, featureID)
	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("feature %q not found", featureID))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "getting feature", err)
	}
	return &f, nil
}

func scanFeature(row rowOrRows) (Feature, error) {
	var f Feature
	var dependsOn, artifacts, created, updated string
	err := row.Scan(&f.ID, &f.ProjectID, &f.Ordinal, &f.Title, &f.Description, &f.Category, &f.Status,
		&f.AttemptCount, &f.LastError, &dependsOn, &f.ClaimedByRunID, &f.Summary, &artifacts, &created, &updated)
	if err != nil {
		return Feature{}, err
	}
	unmarshalJSON(dependsOn, &f.DependsOn)
	unmarshalJSON(artifacts, &f.Artifacts)
	f.CreatedAt, _ = time.Parse(time.RFC3339, created)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return f, nil
}

// TransitionFeature validates and applies a Feature status transition
// (spec.md §4.1). in_progress admission fails with Conflict if any
// other Feature in the project is already in_progress.
func (s *Store) TransitionFeature(projectID, featureID string, to FeatureStatus, reason string) (*Feature, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.GetFeature(projectID, featureID)
	if err != nil {
		return nil, err
	}

	if err := ValidateFeatureTransition(f.Status, to); err != nil {
		return nil, err
	}

	if to == FeatureInProgress {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM features WHERE project_id = ? AND status = ? AND id != ?`,
			projectID, FeatureInProgress, featureID).Scan(&count); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "checking in_progress admission", err)
		}
		if count > 0 {
			return nil, apperr.New(apperr.Conflict, "another feature is already in_progress for this project")
		}
	}

	now := time.Now().UTC()
	attemptCount := f.AttemptCount
	lastError := f.LastError
	if to == FeaturePending && f.Status == FeatureBlocked {
		// returning from blocked to pending does not reset attempt history
	}
	if reason != "" {
		lastError = reason
	}

	_, err = s.hooks.exec(s.db, `UPDATE features SET status = ?, attempt_count = ?, last_error = ?, updated_at = ?
		WHERE project_id = ? AND id = ?`,
		to, attemptCount, lastError, fmtTime(now), projectID, featureID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "updating feature status", err)
	}

	f.Status = to
	f.LastError = lastError
	f.UpdatedAt = now
	return &f, nil
}

// IncrementAttempt bumps a Feature's attempt_count, used when a Run
// exits without marking the feature done (spec.md §4.5 FEATURE_LOOP).
func (s *Store) IncrementAttempt(projectID, featureID, lastError string) (*Feature, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.GetFeature(projectID, featureID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	f.AttemptCount++
	f.LastError = lastError
	f.UpdatedAt = now

	_, err = s.hooks.exec(s.db, `UPDATE features SET attempt_count = ?, last_error = ?, updated_at = ?
		WHERE project_id = ? AND id = ?`, f.AttemptCount, lastError, fmtTime(now), projectID, featureID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "incrementing attempt count", err)
	}
	return &f, nil
}

// ClaimFeature transitions a Feature to in_progress on behalf of runID
// (MCP Tool Surface's claim_feature, spec.md §4.3). Fails with Conflict
// if another feature in the project is already in_progress (the same
// admission rule TransitionFeature applies).
func (s *Store) ClaimFeature(projectID, featureID, runID string) (*Feature, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.GetFeature(projectID, featureID)
	if err != nil {
		return nil, err
	}
	if err := ValidateFeatureTransition(f.Status, FeatureInProgress); err != nil {
		return nil, err
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM features WHERE project_id = ? AND status = ? AND id != ?`,
		projectID, FeatureInProgress, featureID).Scan(&count); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "checking in_progress admission", err)
	}
	if count > 0 {
		return nil, apperr.New(apperr.Conflict, "another feature is already in_progress for this project")
	}

	now := time.Now().UTC()
	_, err = s.hooks.exec(s.db, `UPDATE features SET status = ?, claimed_by_run_id = ?, updated_at = ?
		WHERE project_id = ? AND id = ?`, FeatureInProgress, runID, fmtTime(now), projectID, featureID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "claiming feature", err)
	}

	f.Status = FeatureInProgress
	f.ClaimedByRunID = runID
	f.UpdatedAt = now
	return &f, nil
}

// requireClaimedBy returns Conflict unless f is in_progress and claimed
// by runID — the "fails if not in_progress by this run" rule shared by
// mark_complete, mark_needs_review, mark_blocked, and unclaim.
func requireClaimedBy(f Feature, runID string) error {
	if f.Status != FeatureInProgress || f.ClaimedByRunID != runID {
		return apperr.New(apperr.Conflict, fmt.Sprintf("feature %q is not in_progress claimed by run %q", f.ID, runID))
	}
	return nil
}

// CompleteFeature transitions a Feature to done on behalf of runID,
// recording its summary and artifacts (mark_complete, spec.md §4.3).
// Idempotent on re-entry from the same run with identical arguments.
func (s *Store) CompleteFeature(projectID, featureID, runID, summary string, artifacts []string) (*Feature, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.GetFeature(projectID, featureID)
	if err != nil {
		return nil, err
	}

	if f.Status == FeatureDone && f.ClaimedByRunID == runID && f.Summary == summary && stringSlicesEqual(f.Artifacts, artifacts) {
		return &f, nil
	}

	if err := requireClaimedBy(f, runID); err != nil {
		return nil, err
	}
	if err := ValidateFeatureTransition(f.Status, FeatureDone); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.hooks.exec(s.db, `UPDATE features SET status = ?, summary = ?, artifacts = ?, updated_at = ?
		WHERE project_id = ? AND id = ?`, FeatureDone, summary, marshalJSON(artifacts), fmtTime(now), projectID, featureID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "completing feature", err)
	}

	f.Status = FeatureDone
	f.Summary = summary
	f.Artifacts = artifacts
	f.UpdatedAt = now
	return &f, nil
}

// MarkFeatureNeedsReview transitions a Feature to needs_review on
// behalf of runID, recording reason as its last error.
func (s *Store) MarkFeatureNeedsReview(projectID, featureID, runID, reason string) (*Feature, error) {
	return s.transitionClaimed(projectID, featureID, runID, FeatureNeedsReview, reason)
}

// MarkFeatureBlocked transitions a Feature to blocked on behalf of
// runID, recording reason as its last error.
func (s *Store) MarkFeatureBlocked(projectID, featureID, runID, reason string) (*Feature, error) {
	return s.transitionClaimed(projectID, featureID, runID, FeatureBlocked, reason)
}

// UnclaimFeature releases a Feature back to pending on behalf of runID,
// without recording a failure reason.
func (s *Store) UnclaimFeature(projectID, featureID, runID string) (*Feature, error) {
	return s.transitionClaimed(projectID, featureID, runID, FeaturePending, "")
}

// transitionClaimed validates that runID currently owns featureID, then
// applies a status transition and optional reason.
func (s *Store) transitionClaimed(projectID, featureID, runID string, to FeatureStatus, reason string) (*Feature, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.GetFeature(projectID, featureID)
	if err != nil {
		return nil, err
	}
	if err := requireClaimedBy(f, runID); err != nil {
		return nil, err
	}
	if err := ValidateFeatureTransition(f.Status, to); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lastError := f.LastError
	claimedBy := f.ClaimedByRunID
	if reason != "" {
		lastError = reason
	}
	if to == FeaturePending {
		claimedBy = ""
	}

	_, err = s.hooks.exec(s.db, `UPDATE features SET status = ?, last_error = ?, claimed_by_run_id = ?, updated_at = ?
		WHERE project_id = ? AND id = ?`, to, lastError, claimedBy, fmtTime(now), projectID, featureID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "updating feature status", err)
	}

	f.Status = to
	f.LastError = lastError
	f.ClaimedByRunID = claimedBy
	f.UpdatedAt = now
	return &f, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
