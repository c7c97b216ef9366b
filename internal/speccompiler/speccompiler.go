// Package speccompiler implements the Spec Compiler (spec.md §4.2): it
// turns free-form spec text into a normalized, chunk-indexed form and an
// ordered Feature backlog, and classifies the diff when a spec is
// updated.
//
// Feature generation itself is delegated to a Planner — an external LLM
// collaborator, modeled the same way the teacher's internal/tools
// package treats its own planning steps as calls to an injected
// "agent" function rather than anything implemented in-process.
package speccompiler

import (
	"context"
	"fmt"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// Planner is the external planning collaborator: given spec text and a
// skills context string, it returns a proposed Feature backlog. A real
// deployment backs this with the Claude Code CLI itself (the harness
// asks it, out of band, to draft the backlog); tests back it with a
// stub.
type Planner interface {
	Plan(ctx context.Context, specText, skillsContext string) ([]registry.Feature, error)
}

// RequiredDocFiles is the terminal documentation feature's emitted
// artifact set (spec.md §4.2).
var RequiredDocFiles = []string{
	"docs/OVERVIEW.md",
	"docs/ARCHITECTURE.md",
	"docs/API.md",
	"docs/RUNBOOK.md",
	"docs/CONTEXT.md",
}

// Compiler generates and maintains a project's Feature backlog from spec
// text.
type Compiler struct {
	planner Planner
}

// New builds a Compiler around the given Planner.
func New(planner Planner) *Compiler {
	return &Compiler{planner: planner}
}

// GenerateBacklog asks the Planner for a Feature list and post-processes
// it into a backlog that satisfies spec.md §4.2's guarantees: non-empty
// titles, an allowed category per feature, an acyclic depends_on graph,
// and a documentation-category feature. That feature is appended last
// when the Planner supplied none; a Planner-supplied documentation
// feature keeps the position the Planner gave it.
func (c *Compiler) GenerateBacklog(ctx context.Context, specText, skillsContext string) ([]registry.Feature, error) {
	features, err := c.planner.Plan(ctx, specText, skillsContext)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExtractionFailed, "planning feature backlog", err)
	}
	return PostProcess(features)
}

// PostProcess validates and normalizes a raw Planner result in place,
// appending the terminal documentation feature if the Planner omitted
// one. It is exported separately from GenerateBacklog so tests can feed
// it synthetic Planner output directly.
func PostProcess(features []registry.Feature) ([]registry.Feature, error) {
	for i := range features {
		f := &features[i]
		f.Ordinal = i
		if f.Title == "" {
			return nil, apperr.New(apperr.InvariantViolation, fmt.Sprintf("feature at ordinal %d has an empty title", i))
		}
		if !registry.ValidCategories[f.Category] {
			return nil, apperr.New(apperr.InvariantViolation, fmt.Sprintf("feature %q has invalid category %q", f.Title, f.Category))
		}
		if f.Status == "" {
			f.Status = registry.FeaturePending
		}
	}

	if err := validateAcyclic(features); err != nil {
		return nil, err
	}

	if !hasDocumentationFeature(features) {
		features = append(features, registry.Feature{
			Ordinal:     len(features),
			Title:       "Project documentation",
			Description: fmt.Sprintf("Author %v describing the system as built.", RequiredDocFiles),
			Category:    registry.CategoryDocumentation,
			Status:      registry.FeaturePending,
		})
	}

	return features, nil
}

func hasDocumentationFeature(features []registry.Feature) bool {
	for _, f := range features {
		if f.Category == registry.CategoryDocumentation {
			return true
		}
	}
	return false
}

// validateAcyclic walks each feature's depends_on graph (by title, since
// Planner output has no ids yet) and fails with InvariantViolation if a
// cycle is found.
func validateAcyclic(features []registry.Feature) error {
	byTitle := make(map[string]registry.Feature, len(features))
	for _, f := range features {
		byTitle[f.Title] = f
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(features))

	var visit func(title string, path []string) error
	visit = func(title string, path []string) error {
		switch state[title] {
		case done:
			return nil
		case visiting:
			return apperr.New(apperr.InvariantViolation, fmt.Sprintf("cyclic depends_on: %v -> %s", path, title))
		}
		state[title] = visiting
		f, ok := byTitle[title]
		if ok {
			for _, dep := range f.DependsOn {
				if err := visit(dep, append(path, title)); err != nil {
					return err
				}
			}
		}
		state[title] = done
		return nil
	}

	for _, f := range features {
		if err := visit(f.Title, nil); err != nil {
			return err
		}
	}
	return nil
}
