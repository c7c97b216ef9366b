package orchestrator

import (
	"fmt"
	"strings"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// initializerBasePrompt is the base prompt handed to guardrail.Render
// for a RunInitializer, before Spec Creation obligations are folded in.
func initializerBasePrompt(specText string) string {
	return fmt.Sprintf(`You are the initializer for a new project.

Read the application spec below and call replace_features once with a
complete, ordered feature backlog covering every requirement it
describes. Each feature must be independently implementable; use
depends_on to order features that build on one another.

## Application spec

%s`, strings.TrimSpace(specText))
}

// codingBasePrompt scopes a RunCoding agent to exactly one feature.
func codingBasePrompt(f registry.Feature) string {
	return fmt.Sprintf(`You are implementing one feature of this project's backlog.

Call claim_feature(%q) before making changes, and finish by calling
either mark_complete (with a summary of what changed and the files you
touched) or mark_needs_review if the feature cannot be completed as
specified.

## Feature: %s

%s`, f.ID, f.Title, strings.TrimSpace(f.Description))
}

// regressionBasePrompt gives the regression agent the full feature
// backlog so it can verify end-to-end behavior and reopen any feature
// it finds broken.
func regressionBasePrompt(features []registry.Feature) string {
	var b strings.Builder
	b.WriteString("You are running end-to-end regression verification over this " +
		"project's complete feature backlog. Exercise the application as a " +
		"user would for each feature below. If a feature is broken, reopen " +
		"it by transitioning it back to pending with a reason; otherwise " +
		"leave it untouched.\n\n## Feature backlog\n\n")
	for _, f := range features {
		b.WriteString(featureSummaryLine(f))
		b.WriteString("\n")
	}
	return b.String()
}
