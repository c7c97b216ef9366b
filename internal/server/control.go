package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// registerControlRoutes adds the JSON control API spec.md §6's CLI
// surface drives: create/get/delete/list project, update spec,
// trigger/cancel run, trigger/approve/cancel redesign session. Every handler maps
// domain outcomes to an HTTP status via statusForError so the CLI can
// recover the spec-mandated exit codes (0 clean, 1 usage error, 2
// runtime error, 3 conflict) without inspecting response bodies.
func (h *Harness) registerControlRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/projects", h.handleCreateProject)
	mux.HandleFunc("GET /api/v1/projects", h.handleListProjects)
	mux.HandleFunc("GET /api/v1/projects/{id}", h.handleGetProject)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", h.handleDeleteProject)

	mux.HandleFunc("POST /api/v1/projects/{id}/runs", h.handleStartRun)
	mux.HandleFunc("POST /api/v1/projects/{id}/runs/cancel", h.handleCancelRun)
	mux.HandleFunc("POST /api/v1/projects/{id}/spec", h.handleUpdateSpec)

	mux.HandleFunc("POST /api/v1/redesign/sessions", h.handleStartRedesign)
	mux.HandleFunc("POST /api/v1/redesign/sessions/{id}/approve", h.handleApproveRedesign)
	mux.HandleFunc("POST /api/v1/redesign/sessions/{id}/cancel", h.handleCancelRedesign)
}

type createProjectRequest struct {
	Name          string                 `json:"name"`
	WorkspacePath string                 `json:"workspace_path"`
	SpecText      string                 `json:"spec_text"`
	AgentSettings registry.AgentSettings `json:"agent_settings"`
}

// handleCreateProject implements "project create": it validates
// the workspace path against ALLOWED_ROOT_DIRECTORY, lays out
// prompts/app_spec.txt (spec.md §6), and registers the project with its
// first spec version.
func (h *Harness) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.WorkspacePath == "" || req.SpecText == "" {
		writeErr(w, http.StatusBadRequest, "name, workspace_path, and spec_text are required")
		return
	}

	layout, err := h.resolveWorkspace(req.WorkspacePath)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := layout.Ensure(); err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	if err := os.WriteFile(layout.AppSpecPath(), []byte(req.SpecText), 0o644); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	project, err := h.Store.CreateProject(req.Name, req.WorkspacePath, req.AgentSettings)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	if _, err := h.Store.AppendSpecVersion(project.ID, req.SpecText, ""); err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

func (h *Harness) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects()
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Harness) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.Store.GetProject(r.PathValue("id"))
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Harness) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteProject(r.PathValue("id")); err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartRun implements "run start": it rejects a duplicate trigger
// with Conflict before spawning anything, then drives the Orchestrator
// in the background and returns immediately (the CLI's "run start"
// prints this response and exits without waiting for completion).
func (h *Harness) handleStartRun(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if _, err := h.Store.GetProject(projectID); err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	if h.Orchestrator.Active(projectID) {
		writeErr(w, http.StatusConflict, "project already has an active run")
		return
	}

	go func() {
		if err := h.Orchestrator.Run(context.Background(), projectID); err != nil {
			h.logger.Error("orchestrator run failed", zap.Error(err), zap.String("project_id", projectID))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"project_id": projectID, "status": "started"})
}

func (h *Harness) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	h.Orchestrator.Cancel(r.PathValue("id"))
	w.WriteHeader(http.StatusAccepted)
}

type startRedesignRequest struct {
	ProjectID  string `json:"project_id"`
	StyleBrief string `json:"style_brief"`
}

// handleStartRedesign implements "redesign start": create the session
// row, lay out its workspace directory, and drive the Redesign Engine
// in the background.
func (h *Harness) handleStartRedesign(w http.ResponseWriter, r *http.Request) {
	var req startRedesignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProjectID == "" {
		writeErr(w, http.StatusBadRequest, "project_id is required")
		return
	}

	project, err := h.Store.GetProject(req.ProjectID)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}

	session, err := h.Store.CreateRedesignSession(req.ProjectID, req.StyleBrief)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}

	layout, err := h.resolveWorkspace(project.WorkspacePath)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := layout.EnsureRedesignSession(session.ID); err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}

	go func() {
		if err := h.Redesign.Run(context.Background(), session.ID); err != nil {
			h.logger.Error("redesign run failed", zap.Error(err), zap.String("session_id", session.ID))
		}
	}()

	writeJSON(w, http.StatusAccepted, session)
}

type approveRedesignRequest struct {
	Phase registry.PhaseKey `json:"phase"`
}

// handleApproveRedesign implements "redesign approve": it records the
// approval and wakes any require_phase_approval call currently
// suspended on that phase.
func (h *Harness) handleApproveRedesign(w http.ResponseWriter, r *http.Request) {
	var req approveRedesignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Phase == "" {
		writeErr(w, http.StatusBadRequest, "phase is required")
		return
	}
	if err := h.Redesign.Approve(r.PathValue("id"), req.Phase); err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Harness) handleCancelRedesign(w http.ResponseWriter, r *http.Request) {
	h.Redesign.Cancel(r.PathValue("id"))
	w.WriteHeader(http.StatusAccepted)
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
