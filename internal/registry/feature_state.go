package registry

import (
	"fmt"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// featureEdges is the allowed Feature status transition table from
// spec.md §4.1, extended with the reopening edge §4.5 (REGRESSION "may
// reopen features by transitioning them back to pending") and §4.2
// (a spec-update merge reclassifying a done feature's requirement as
// logic-impacted) both require:
//
//	pending -> in_progress -> {done, needs_review, blocked, skipped, pending}
//	needs_review -> in_progress
//	blocked -> pending
//	done -> pending
//
// in_progress -> pending is the unclaim edge: a run that releases its
// claim without resolving the feature (mcptools.unclaim, or the Run
// Orchestrator retrying after a run exits without marking the feature
// done) returns it to the front of the queue rather than failing it.
//
// Modeled the same way the teacher's changes.CanAdvance/Advance pair
// validates a ChangeRecord's stage transition before mutating it.
var featureEdges = map[FeatureStatus]map[FeatureStatus]bool{
	FeaturePending: {
		FeatureInProgress: true,
	},
	FeatureInProgress: {
		FeatureDone:        true,
		FeatureNeedsReview: true,
		FeatureBlocked:     true,
		FeatureSkipped:     true,
		FeaturePending:     true,
	},
	FeatureNeedsReview: {
		FeatureInProgress: true,
	},
	FeatureBlocked: {
		FeaturePending: true,
	},
	FeatureDone: {
		FeaturePending: true,
	},
}

// ValidateFeatureTransition returns an InvariantViolation error unless
// (from -> to) is an allowed edge in the Feature status machine.
func ValidateFeatureTransition(from, to FeatureStatus) error {
	if edges, ok := featureEdges[from]; ok && edges[to] {
		return nil
	}
	return apperr.New(apperr.InvariantViolation,
		fmt.Sprintf("illegal feature transition %q -> %q", from, to))
}
