package speccompiler

import (
	"testing"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

func TestClassifyDiff_NewRequirementHasNoOldCounterpart(t *testing.T) {
	diffs := ClassifyDiff(nil, []Requirement{{Title: "Brand new"}})
	if len(diffs) != 1 || diffs[0].Kind != DiffNew || diffs[0].Old != nil {
		t.Fatalf("expected a single DiffNew with no Old, got %+v", diffs)
	}
}

func TestClassifyDiff_CosmeticWhenOnlyDescriptionChanges(t *testing.T) {
	old := []Requirement{{Title: "Login", Description: "old wording", Priority: PriorityMedium}}
	updated := []Requirement{{Title: "Login", Description: "new wording", Priority: PriorityMedium}}

	diffs := ClassifyDiff(old, updated)
	if len(diffs) != 1 || diffs[0].Kind != DiffCosmetic {
		t.Fatalf("expected DiffCosmetic for a description-only edit, got %+v", diffs)
	}
}

func TestClassifyDiff_LogicWhenAcceptanceChanges(t *testing.T) {
	old := []Requirement{{Title: "Login", Acceptance: []string{"email+password"}}}
	updated := []Requirement{{Title: "Login", Acceptance: []string{"email+password", "2fa code"}}}

	diffs := ClassifyDiff(old, updated)
	if len(diffs) != 1 || diffs[0].Kind != DiffLogic {
		t.Fatalf("expected DiffLogic for an acceptance-criteria change, got %+v", diffs)
	}
}

func TestClassifyDiff_LogicWhenPriorityChanges(t *testing.T) {
	old := []Requirement{{Title: "Login", Priority: PriorityLow}}
	updated := []Requirement{{Title: "Login", Priority: PriorityHigh}}

	diffs := ClassifyDiff(old, updated)
	if len(diffs) != 1 || diffs[0].Kind != DiffLogic {
		t.Fatalf("expected DiffLogic for a priority change, got %+v", diffs)
	}
}

func TestApplyDiffToFeature_CosmeticAndNewKeepCurrentStatus(t *testing.T) {
	if got := ApplyDiffToFeature(registry.FeatureInProgress, DiffCosmetic); got != registry.FeatureInProgress {
		t.Errorf("expected cosmetic diff to keep status, got %q", got)
	}
	if got := ApplyDiffToFeature(registry.FeatureDone, DiffNew); got != registry.FeatureDone {
		t.Errorf("expected new-requirement diff to keep status, got %q", got)
	}
}

func TestApplyDiffToFeature_LogicMovesActiveFeatureToNeedsReview(t *testing.T) {
	got := ApplyDiffToFeature(registry.FeatureInProgress, DiffLogic)
	if got != registry.FeatureNeedsReview {
		t.Errorf("expected logic diff on an in-progress feature to move to needs_review, got %q", got)
	}
}

func TestApplyDiffToFeature_LogicReopensDoneFeatureToPending(t *testing.T) {
	got := ApplyDiffToFeature(registry.FeatureDone, DiffLogic)
	if got != registry.FeaturePending {
		t.Errorf("expected logic diff on a done feature to reopen to pending, got %q", got)
	}

	if err := registry.ValidateFeatureTransition(registry.FeatureDone, got); err != nil {
		t.Errorf("expected done -> pending to be a legal registry transition, got %v", err)
	}
}
