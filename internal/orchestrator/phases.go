package orchestrator

import (
	"context"
	"fmt"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/guardrail"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/supervisor"
)

// runInitializing spawns the initializer run with the full spec and
// waits for it to either produce a feature backlog via replace_features
// or exit. spec.md §4.5: "Terminates when the initializer marks itself
// complete or exits."
func (o *Orchestrator) runInitializing(ctx context.Context, pr *projectRun, project *registry.Project) error {
	spec, err := o.registry.GetActiveSpec(project.ID)
	if err != nil {
		return apperr.Wrap(apperr.InvariantViolation, "initializing requires an active spec artifact", err)
	}

	prompt := guardrail.Render(initializerBasePrompt(spec.SourceText), project.AgentSettings, guardrail.ModeInitializer, o.manifest.Current())
	h, waitErr := o.spawnAndWait(ctx, pr, supervisor.Spec{
		ProjectID:     project.ID,
		Kind:          registry.RunInitializer,
		ModelID:       project.AgentSettings.ModelID,
		SystemPrompt:  prompt,
		WorkspacePath: project.WorkspacePath,
		MCPEndpoint:   o.mcpEndpoint,
	})
	if h == nil {
		return waitErr
	}
	if waitErr != nil {
		return apperr.Wrap(apperr.Internal, "initializer run failed", waitErr)
	}

	features, err := o.registry.ListFeatures(project.ID)
	if err != nil {
		return err
	}
	if len(features) == 0 {
		return apperr.New(apperr.InvariantViolation, "initializer exited without producing a feature backlog")
	}
	return nil
}

// runFeatureLoop repeatedly schedules the lowest-ordinal pending feature
// whose dependencies are all done until none remain actionable
// (spec.md §4.5 FEATURE_LOOP).
func (o *Orchestrator) runFeatureLoop(ctx context.Context, pr *projectRun, project *registry.Project) error {
	for {
		if o.cancelled(pr) {
			return apperr.New(apperr.Cancelled, "feature loop cancelled")
		}

		features, err := o.registry.ListFeatures(project.ID)
		if err != nil {
			return err
		}
		next := selectNextFeature(features)
		if next == nil {
			return nil
		}

		prompt := guardrail.Render(codingBasePrompt(*next), project.AgentSettings, guardrail.ModeCoding, o.manifest.Current())
		h, waitErr := o.spawnAndWait(ctx, pr, supervisor.Spec{
			ProjectID:     project.ID,
			Kind:          registry.RunCoding,
			FeatureID:     next.ID,
			ModelID:       project.AgentSettings.ModelID,
			SystemPrompt:  prompt,
			WorkspacePath: project.WorkspacePath,
			MCPEndpoint:   o.mcpEndpoint,
		})
		if h == nil {
			return waitErr
		}

		if err := o.resolveAfterRun(project.ID, h.RunID, next.ID, waitErr); err != nil {
			return err
		}
	}
}

// resolveAfterRun reconciles a feature's state once its scoped run has
// terminated. If the agent already resolved the feature (done,
// needs_review, blocked, or skipped) via the MCP Tool Surface, the orchestrator
// leaves it alone. Otherwise — the feature is still pending (the run
// never even claimed it) or still in_progress (claimed but never
// completed) — it bumps attempt_count and either returns the feature to
// pending for a retry or escalates to needs_review once maxAttempts is
// reached. Escalating a still-pending feature first claims it under the
// terminated run's id purely to satisfy the Feature status machine's
// pending -> in_progress -> needs_review edges (spec.md §4.1); the run
// itself is already finished by this point.
func (o *Orchestrator) resolveAfterRun(projectID, runID, featureID string, waitErr error) error {
	f, err := o.registry.GetFeature(projectID, featureID)
	if err != nil {
		return err
	}
	switch f.Status {
	case registry.FeatureDone, registry.FeatureNeedsReview, registry.FeatureBlocked, registry.FeatureSkipped:
		o.publishFeature(projectID, FeatureEvent{FeatureID: featureID, Status: string(f.Status)})
		return nil
	}

	reason := "run exited without resolving the feature"
	if waitErr != nil {
		reason = waitErr.Error()
	}

	updated, err := o.registry.IncrementAttempt(projectID, featureID, reason)
	if err != nil {
		return err
	}

	if updated.AttemptCount >= o.maxAttempts {
		if f.Status == registry.FeaturePending {
			if _, err := o.registry.ClaimFeature(projectID, featureID, runID); err != nil {
				return err
			}
		}
		if _, err := o.registry.MarkFeatureNeedsReview(projectID, featureID, runID, reason); err != nil {
			return err
		}
		o.publishFeature(projectID, FeatureEvent{FeatureID: featureID, Status: string(registry.FeatureNeedsReview), Reason: reason})
		return nil
	}

	if f.Status == registry.FeatureInProgress {
		if _, err := o.registry.UnclaimFeature(projectID, featureID, runID); err != nil {
			return err
		}
	}
	o.publishFeature(projectID, FeatureEvent{FeatureID: featureID, Status: string(registry.FeaturePending), Reason: reason})
	return nil
}

// selectNextFeature returns the lowest-ordinal pending Feature whose
// dependencies are all done, or nil if none is actionable. features
// must already be ordinal-ascending (registry.ListFeatures's order).
func selectNextFeature(features []registry.Feature) *registry.Feature {
	done := make(map[string]bool, len(features))
	for _, f := range features {
		if f.Status == registry.FeatureDone {
			done[f.ID] = true
		}
	}
	for i := range features {
		f := &features[i]
		if f.Status != registry.FeaturePending {
			continue
		}
		ready := true
		for _, dep := range f.DependsOn {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return f
		}
	}
	return nil
}

// runRegression spawns the end-to-end verification run once the
// feature loop has exhausted every actionable feature (spec.md §4.5
// REGRESSION). The regression agent may reopen features to pending via
// the Registry directly; the orchestrator does not loop back into
// FEATURE_LOOP within the same Run call — a subsequent "run start"
// picks up any reopened work.
func (o *Orchestrator) runRegression(ctx context.Context, pr *projectRun, project *registry.Project) error {
	if o.cancelled(pr) {
		return apperr.New(apperr.Cancelled, "regression cancelled")
	}

	features, err := o.registry.ListFeatures(project.ID)
	if err != nil {
		return err
	}

	prompt := guardrail.Render(regressionBasePrompt(features), project.AgentSettings, guardrail.ModeRegression, o.manifest.Current())
	h, waitErr := o.spawnAndWait(ctx, pr, supervisor.Spec{
		ProjectID:     project.ID,
		Kind:          registry.RunRegression,
		ModelID:       project.AgentSettings.ModelID,
		SystemPrompt:  prompt,
		WorkspacePath: project.WorkspacePath,
		MCPEndpoint:   o.mcpEndpoint,
	})
	if h == nil {
		return waitErr
	}
	if waitErr != nil {
		return apperr.Wrap(apperr.Internal, "regression run failed", waitErr)
	}
	return nil
}

func featureSummaryLine(f registry.Feature) string {
	return fmt.Sprintf("- [%s] %s: %s", f.Status, f.Title, f.Description)
}
