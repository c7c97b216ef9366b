package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// AppendSpecVersion appends a new immutable SpecArtifact version for a
// project, bumping Project.SpecVersion monotonically (spec.md §4.1.b).
func (s *Store) AppendSpecVersion(projectID, sourceText, diffFromPrev string) (*SpecArtifact, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "begin tx", err)
	}
	defer tx.Rollback()

	var currentVersion int
	if err := tx.QueryRow(`SELECT spec_version FROM projects WHERE id = ?`, projectID).Scan(&currentVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("project %q not found", projectID))
		}
		return nil, apperr.Wrap(apperr.Internal, "reading spec version", err)
	}

	nextVersion := currentVersion + 1
	now := time.Now().UTC()

	if _, err := tx.Exec(`INSERT INTO spec_artifacts (project_id, version_id, source_text, diff_from_prev, created_at)
		VALUES (?, ?, ?, ?, ?)`, projectID, nextVersion, sourceText, diffFromPrev, fmtTime(now)); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "inserting spec artifact", err)
	}

	if _, err := tx.Exec(`UPDATE projects SET spec_version = ?, updated_at = ? WHERE id = ?`,
		nextVersion, fmtTime(now), projectID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "bumping spec version", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "commit", err)
	}

	return &SpecArtifact{
		ProjectID:    projectID,
		VersionID:    nextVersion,
		SourceText:   sourceText,
		DiffFromPrev: diffFromPrev,
		CreatedAt:    now,
	}, nil
}

// GetActiveSpec returns the latest (highest version) SpecArtifact for a
// project.
func (s *Store) GetActiveSpec(projectID string) (*SpecArtifact, error) {
	row := s.db.QueryRow(`SELECT project_id, version_id, source_text, diff_from_prev, created_at
		FROM spec_artifacts WHERE project_id = ? ORDER BY version_id DESC LIMIT 1`, projectID)

	var a SpecArtifact
	var created string
	err := row.Scan(&a.ProjectID, &a.VersionID, &a.SourceText, &a.DiffFromPrev, &created)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("no spec artifact for project %q", projectID))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "getting active spec", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &a, nil
}

// ListSpecVersions returns every SpecArtifact for a project, oldest first.
func (s *Store) ListSpecVersions(projectID string) ([]SpecArtifact, error) {
	rows, err := s.db.Query(`SELECT project_id, version_id, source_text, diff_from_prev, created_at
		FROM spec_artifacts WHERE project_id = ? ORDER BY version_id ASC`, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing spec versions", err)
	}
	defer rows.Close()

	var out []SpecArtifact
	for rows.Next() {
		var a SpecArtifact
		var created string
		if err := rows.Scan(&a.ProjectID, &a.VersionID, &a.SourceText, &a.DiffFromPrev, &created); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scanning spec artifact", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, a)
	}
	return out, nil
}
