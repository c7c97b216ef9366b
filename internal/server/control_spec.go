package server

import (
	"net/http"
	"strings"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/speccompiler"
)

type updateSpecRequest struct {
	SpecText string `json:"spec_text"`
}

type updateSpecResponse struct {
	SpecVersion int                               `json:"spec_version"`
	Coverage    float64                           `json:"coverage"`
	Uncovered   []speccompiler.CoverageDimension  `json:"uncovered_dimensions,omitempty"`
	Applied     []string                          `json:"applied"`
	Skipped     []string                          `json:"skipped"`
}

// handleUpdateSpec implements the spec-update half of spec.md §4.2: it
// re-extracts requirements from the new spec text, merges them against
// the project's current active spec, refuses to apply below full
// coverage or with unresolved conflicts, and otherwise classifies the
// diff and drives each affected Feature's status transition.
//
// Requirement-to-Feature matching has no shared key (the Spec Compiler
// only ever saw normalized titles), so features are matched by
// case-folded, whitespace-collapsed title. A diff that implies an illegal status edge — most
// notably pending -> needs_review, which registry's transition table
// does not allow — is recorded as skipped rather than failing the whole
// request; the feature keeps its current status until a run claims it.
func (h *Harness) handleUpdateSpec(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req updateSpecRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SpecText) == "" {
		writeErr(w, http.StatusBadRequest, "spec_text is required")
		return
	}

	current, err := h.Store.GetActiveSpec(projectID)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}

	oldResult, err := speccompiler.Merge(current.SourceText, h.cliAgent)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	newResult, err := speccompiler.Merge(req.SpecText, h.cliAgent)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}

	if !speccompiler.CanApply(newResult) {
		dims := speccompiler.DefaultCoverageDimensions(newResult)
		writeJSON(w, http.StatusUnprocessableEntity, updateSpecResponse{
			Coverage:  newResult.Coverage,
			Uncovered: speccompiler.UncoveredDimensions(dims),
		})
		return
	}

	features, err := h.Store.ListFeatures(projectID)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}
	byTitle := make(map[string]registry.Feature, len(features))
	for _, f := range features {
		byTitle[strings.ToLower(strings.Join(strings.Fields(f.Title), " "))] = f
	}

	diffs := speccompiler.ClassifyDiff(oldResult.Requirements, newResult.Requirements)

	var applied, skipped []string
	var toAppend []registry.Feature
	for _, d := range diffs {
		if d.Kind == speccompiler.DiffNew {
			toAppend = append(toAppend, registry.Feature{
				Title:       d.New.Title,
				Description: d.New.Description,
				Category:    registry.CategoryCore,
				Status:      registry.FeaturePending,
			})
			applied = append(applied, d.New.Title)
			continue
		}

		existing, ok := byTitle[strings.ToLower(strings.Join(strings.Fields(d.New.Title), " "))]
		if !ok {
			// Requirement survived from the old spec but no Feature was ever
			// generated for it (backlog predates the Spec Compiler, or was
			// hand-edited) - nothing to transition.
			skipped = append(skipped, d.New.Title)
			continue
		}

		target := speccompiler.ApplyDiffToFeature(existing.Status, d.Kind)
		if target == existing.Status {
			continue
		}
		if _, err := h.Store.TransitionFeature(projectID, existing.ID, target, "spec updated"); err != nil {
			if apperr.KindOf(err) == apperr.InvariantViolation {
				skipped = append(skipped, d.New.Title)
				continue
			}
			writeErr(w, statusForError(err), err.Error())
			return
		}
		applied = append(applied, d.New.Title)
	}

	if len(toAppend) > 0 {
		if err := h.Store.AppendFeatures(projectID, toAppend); err != nil {
			writeErr(w, statusForError(err), err.Error())
			return
		}
	}

	diffSummary := strings.Join(applied, "; ")
	artifact, err := h.Store.AppendSpecVersion(projectID, req.SpecText, diffSummary)
	if err != nil {
		writeErr(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, updateSpecResponse{
		SpecVersion: artifact.VersionID,
		Coverage:    newResult.Coverage,
		Applied:     applied,
		Skipped:     skipped,
	})
}
