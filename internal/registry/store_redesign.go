package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// CreateRedesignSession starts a new RedesignSession. Fails with
// Conflict if a non-terminal session already exists for the project
// (spec.md §3 invariant).
func (s *Store) CreateRedesignSession(projectID, styleBrief string) (*RedesignSession, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	active, err := s.activeRedesignUnlocked(projectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("project %q already has an active redesign session (%s)", projectID, active.ID))
	}

	now := time.Now().UTC()
	session := &RedesignSession{
		ID:             newID(),
		ProjectID:      projectID,
		Status:         RedesignCollecting,
		StyleBrief:     styleBrief,
		PhaseApprovals: map[PhaseKey]time.Time{},
		CreatedAt:      now,
	}

	_, err = s.hooks.exec(s.db, `INSERT INTO redesign_sessions
		(id, project_id, status, style_brief, extracted_tokens, change_plan, framework_detected, phase_approvals, created_at)
		VALUES (?, ?, ?, ?, NULL, NULL, '', ?, ?)`,
		session.ID, session.ProjectID, session.Status, session.StyleBrief, marshalJSON(session.PhaseApprovals), fmtTime(now))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "creating redesign session", err)
	}
	return session, nil
}

// GetRedesignSession looks up a RedesignSession by id.
func (s *Store) GetRedesignSession(id string) (*RedesignSession, error) {
	row := s.db.QueryRow(`SELECT id, project_id, status, style_brief, extracted_tokens, change_plan, framework_detected, phase_approvals, created_at
		FROM redesign_sessions WHERE id = ?`, id)
	sess, err := scanRedesignSession(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("redesign session %q not found", id))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "getting redesign session", err)
	}
	return &sess, nil
}

// GetActiveRedesignSession returns the project's current non-terminal
// RedesignSession, or nil.
func (s *Store) GetActiveRedesignSession(projectID string) (*RedesignSession, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.activeRedesignUnlocked(projectID)
}

func (s *Store) activeRedesignUnlocked(projectID string) (*RedesignSession, error) {
	rows, err := s.db.Query(`SELECT id, project_id, status, style_brief, extracted_tokens, change_plan, framework_detected, phase_approvals, created_at
		FROM redesign_sessions WHERE project_id = ? AND status NOT IN ('done','cancelled')
		ORDER BY created_at DESC LIMIT 1`, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "checking active redesign session", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	sess, err := scanRedesignSession(rows)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "scanning redesign session", err)
	}
	return &sess, nil
}

// UpdateRedesignStatus transitions a session to a new status (the
// orchestrating Redesign Engine validates legality before calling this;
// the Registry enforces only persistence).
func (s *Store) UpdateRedesignStatus(id string, status RedesignStatus) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.hooks.exec(s.db, `UPDATE redesign_sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "updating redesign status", err)
	}
	return nil
}

// WriteExtractedTokens persists the DesignTokens emitted by the
// extracting-phase agent.
func (s *Store) WriteExtractedTokens(id string, tokens DesignTokens) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.hooks.exec(s.db, `UPDATE redesign_sessions SET extracted_tokens = ? WHERE id = ?`,
		marshalJSON(tokens), id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "writing design tokens", err)
	}
	return nil
}

// WriteChangePlan persists the ChangePlan emitted by the planning-phase
// agent. Round-trips byte-for-byte ordering (spec.md §8 idempotence).
func (s *Store) WriteChangePlan(id string, plan ChangePlan) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.hooks.exec(s.db, `UPDATE redesign_sessions SET change_plan = ? WHERE id = ?`,
		marshalJSON(plan), id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "writing change plan", err)
	}
	return nil
}

// RecordPhaseApproval records that a user approved one ChangePlan phase.
// require_phase_approval (mcptools) only returns successfully once this
// has been called for the phase in question (spec.md §4.7 invariant).
func (s *Store) RecordPhaseApproval(id string, phase PhaseKey) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sess, err := s.getRedesignSessionUnlocked(id)
	if err != nil {
		return err
	}
	if sess.PhaseApprovals == nil {
		sess.PhaseApprovals = map[PhaseKey]time.Time{}
	}
	sess.PhaseApprovals[phase] = time.Now().UTC()

	_, err = s.hooks.exec(s.db, `UPDATE redesign_sessions SET phase_approvals = ? WHERE id = ?`,
		marshalJSON(sess.PhaseApprovals), id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "recording phase approval", err)
	}
	return nil
}

func (s *Store) getRedesignSessionUnlocked(id string) (*RedesignSession, error) {
	row := s.db.QueryRow(`SELECT id, project_id, status, style_brief, extracted_tokens, change_plan, framework_detected, phase_approvals, created_at
		FROM redesign_sessions WHERE id = ?`, id)
	sess, err := scanRedesignSession(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("redesign session %q not found", id))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "getting redesign session", err)
	}
	return &sess, nil
}

func scanRedesignSession(row rowOrRows) (RedesignSession, error) {
	var sess RedesignSession
	var extracted, plan sql.NullString
	var approvals, created string
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Status, &sess.StyleBrief,
		&extracted, &plan, &sess.FrameworkDetected, &approvals, &created)
	if err != nil {
		return RedesignSession{}, err
	}
	if extracted.Valid {
		var t DesignTokens
		unmarshalJSON(extracted.String, &t)
		sess.ExtractedTokens = &t
	}
	if plan.Valid {
		var p ChangePlan
		unmarshalJSON(plan.String, &p)
		sess.ChangePlan = &p
	}
	sess.PhaseApprovals = map[PhaseKey]time.Time{}
	unmarshalJSON(approvals, &sess.PhaseApprovals)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return sess, nil
}

// --- References ---

// CreateReference persists a normalized Reference (spec.md §4.8).
func (s *Store) CreateReference(ref Reference) (*Reference, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if ref.ID == "" {
		ref.ID = newID()
	}
	var manifestJSON sql.NullString
	if ref.ComponentManifest != nil {
		manifestJSON = sql.NullString{String: marshalJSON(ref.ComponentManifest), Valid: true}
	}

	_, err := s.hooks.exec(s.db, `INSERT INTO redesign_references
		(id, session_id, type, payload, filename, original_url, page_identifier, component_manifest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.SessionID, ref.Type, ref.Payload, ref.Filename, ref.OriginalURL, ref.PageIdentifier, manifestJSON)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "creating reference", err)
	}
	return &ref, nil
}

// ListReferences returns every Reference for a session.
func (s *Store) ListReferences(sessionID string) ([]Reference, error) {
	rows, err := s.db.Query(`SELECT id, session_id, type, payload, filename, original_url, page_identifier, component_manifest
		FROM redesign_references WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing references", err)
	}
	defer rows.Close()

	var out []Reference
	for rows.Next() {
		var r Reference
		var manifest sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Type, &r.Payload, &r.Filename, &r.OriginalURL, &r.PageIdentifier, &manifest); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scanning reference", err)
		}
		if manifest.Valid {
			var m ComponentManifest
			unmarshalJSON(manifest.String, &m)
			r.ComponentManifest = &m
		}
		out = append(out, r)
	}
	return out, nil
}
