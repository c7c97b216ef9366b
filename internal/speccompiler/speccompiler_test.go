package speccompiler

import (
	"context"
	"testing"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

type stubPlanner struct {
	features []registry.Feature
	err      error
}

func (s stubPlanner) Plan(ctx context.Context, specText, skillsContext string) ([]registry.Feature, error) {
	return s.features, s.err
}

func TestPostProcess_AssignsOrdinalsAndDefaultsStatus(t *testing.T) {
	features := []registry.Feature{
		{Title: "Login form", Category: registry.CategoryUI},
		{Title: "Auth service", Category: registry.CategoryCore, Status: registry.FeatureInProgress},
	}

	out, err := PostProcess(features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Ordinal != 0 || out[1].Ordinal != 1 {
		t.Fatalf("expected sequential ordinals, got %d, %d", out[0].Ordinal, out[1].Ordinal)
	}
	if out[0].Status != registry.FeaturePending {
		t.Errorf("expected empty status defaulted to pending, got %q", out[0].Status)
	}
	if out[1].Status != registry.FeatureInProgress {
		t.Errorf("expected explicit status preserved, got %q", out[1].Status)
	}
}

func TestPostProcess_AppendsDocumentationFeatureWhenMissing(t *testing.T) {
	features := []registry.Feature{
		{Title: "Auth service", Category: registry.CategoryCore},
	}

	out, err := PostProcess(features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected a synthesized documentation feature appended, got %d features", len(out))
	}
	last := out[len(out)-1]
	if last.Category != registry.CategoryDocumentation {
		t.Errorf("expected last feature to be documentation category, got %q", last.Category)
	}
	if last.Status != registry.FeaturePending {
		t.Errorf("expected synthesized feature to start pending, got %q", last.Status)
	}
}

func TestPostProcess_DoesNotDuplicateDocumentationFeature(t *testing.T) {
	features := []registry.Feature{
		{Title: "Write the docs", Category: registry.CategoryDocumentation},
	}

	out, err := PostProcess(features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected no extra documentation feature appended, got %d features", len(out))
	}
}

func TestPostProcess_RejectsEmptyTitle(t *testing.T) {
	features := []registry.Feature{{Title: "", Category: registry.CategoryCore}}

	_, err := PostProcess(features)
	if apperr.KindOf(err) != apperr.InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestPostProcess_RejectsInvalidCategory(t *testing.T) {
	features := []registry.Feature{{Title: "Mystery", Category: "nonsense"}}

	_, err := PostProcess(features)
	if apperr.KindOf(err) != apperr.InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestPostProcess_RejectsCyclicDependsOn(t *testing.T) {
	features := []registry.Feature{
		{Title: "A", Category: registry.CategoryCore, DependsOn: []string{"B"}},
		{Title: "B", Category: registry.CategoryCore, DependsOn: []string{"A"}},
	}

	_, err := PostProcess(features)
	if apperr.KindOf(err) != apperr.InvariantViolation {
		t.Fatalf("expected InvariantViolation for cyclic depends_on, got %v", err)
	}
}

func TestPostProcess_AcceptsAcyclicDependsOn(t *testing.T) {
	features := []registry.Feature{
		{Title: "A", Category: registry.CategoryCore},
		{Title: "B", Category: registry.CategoryCore, DependsOn: []string{"A"}},
		{Title: "Docs", Category: registry.CategoryDocumentation, DependsOn: []string{"B"}},
	}

	if _, err := PostProcess(features); err != nil {
		t.Fatalf("unexpected error on acyclic graph: %v", err)
	}
}

func TestCompiler_GenerateBacklog_WrapsPlannerFailure(t *testing.T) {
	c := New(stubPlanner{err: apperr.New(apperr.Internal, "model unavailable")})

	_, err := c.GenerateBacklog(context.Background(), "spec text", "skills")
	if apperr.KindOf(err) != apperr.ExtractionFailed {
		t.Fatalf("expected ExtractionFailed wrapping planner error, got %v", err)
	}
}

func TestCompiler_GenerateBacklog_PostProcessesPlannerOutput(t *testing.T) {
	c := New(stubPlanner{features: []registry.Feature{
		{Title: "Core feature", Category: registry.CategoryCore},
	}})

	out, err := c.GenerateBacklog(context.Background(), "spec text", "skills")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected documentation feature appended by post-processing, got %d", len(out))
	}
}
