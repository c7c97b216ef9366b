package speccompiler

import (
	"reflect"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// DiffKind classifies how a requirement changed between spec versions
// (spec.md §4.2).
type DiffKind string

const (
	DiffCosmetic DiffKind = "cosmetic"
	DiffLogic    DiffKind = "logic"
	DiffNew      DiffKind = "new"
)

// RequirementDiff pairs an old/new Requirement (new may stand alone for
// DiffNew) with its classification.
type RequirementDiff struct {
	Old  *Requirement
	New  Requirement
	Kind DiffKind
}

// ClassifyDiff compares old and new Requirement sets (matched by
// normalized title) and returns one RequirementDiff per new-side
// requirement. Old requirements with no new-side counterpart (dropped
// requirements) are not reported.
func ClassifyDiff(oldReqs, newReqs []Requirement) []RequirementDiff {
	oldByKey := make(map[string]Requirement, len(oldReqs))
	for _, r := range oldReqs {
		oldByKey[normalizeKey(r.Title)] = r
	}

	diffs := make([]RequirementDiff, 0, len(newReqs))
	for _, n := range newReqs {
		key := normalizeKey(n.Title)
		old, existed := oldByKey[key]
		if !existed {
			diffs = append(diffs, RequirementDiff{New: n, Kind: DiffNew})
			continue
		}
		oldCopy := old
		diffs = append(diffs, RequirementDiff{Old: &oldCopy, New: n, Kind: classifyPair(old, n)})
	}
	return diffs
}

// classifyPair decides cosmetic vs logic for a matched requirement pair.
// Cosmetic covers rename/reorder/description-only edits; anything that
// touches acceptance criteria, constraints, priority, or tags is treated
// as a behavior/workflow/permission change per spec.md §4.2.
func classifyPair(old, new Requirement) DiffKind {
	if !reflect.DeepEqual(old.Acceptance, new.Acceptance) ||
		!reflect.DeepEqual(old.Constraints, new.Constraints) ||
		old.Priority != new.Priority ||
		!reflect.DeepEqual(old.Tags, new.Tags) {
		return DiffLogic
	}
	return DiffCosmetic
}

// ApplyDiffToFeature returns the Feature status a diff classification
// implies, given the feature's current status (spec.md §4.2: cosmetic
// keeps status; logic moves to needs_review, or to pending if the
// feature was already done; new requirements are handled separately by
// appending a fresh pending Feature).
func ApplyDiffToFeature(current registry.FeatureStatus, kind DiffKind) registry.FeatureStatus {
	switch kind {
	case DiffLogic:
		if current == registry.FeatureDone {
			return registry.FeaturePending
		}
		return registry.FeatureNeedsReview
	default:
		return current
	}
}
