package redesign

import (
	"context"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/guardrail"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/supervisor"
)

// runExtracting spawns the short-lived agent whose only job is to call
// write_tokens (spec.md §4.7 step 2), then advances to planning once
// ExtractedTokens has actually landed.
func (e *Engine) runExtracting(ctx context.Context, sr *sessionRun, sess *registry.RedesignSession, project *registry.Project) error {
	refs, err := e.registry.ListReferences(sess.ID)
	if err != nil {
		return err
	}

	prompt := guardrail.Render(extractorBasePrompt(sess, refs), project.AgentSettings, guardrail.ModeRedesign, e.manifest.Current())
	h, waitErr := e.spawnAndWait(ctx, sr, supervisor.Spec{
		ProjectID:     project.ID,
		Kind:          registry.RunRedesign,
		ModelID:       project.AgentSettings.ModelID,
		SystemPrompt:  prompt,
		WorkspacePath: project.WorkspacePath,
		MCPEndpoint:   e.mcpEndpoint,
	})
	if err := e.waitOutcome(sr, h, waitErr, "extracting"); err != nil {
		return err
	}

	updated, err := e.registry.GetRedesignSession(sess.ID)
	if err != nil {
		return err
	}
	if updated.ExtractedTokens == nil {
		return apperr.New(apperr.InvariantViolation, "extracting run exited without calling write_tokens")
	}
	return e.advance(sess.ID, registry.RedesignPlanning)
}

// runPlanning spawns the agent that turns ExtractedTokens into a
// phase-ordered ChangePlan via write_plan (spec.md §4.7 step 3).
func (e *Engine) runPlanning(ctx context.Context, sr *sessionRun, sess *registry.RedesignSession, project *registry.Project) error {
	refs, err := e.registry.ListReferences(sess.ID)
	if err != nil {
		return err
	}

	prompt := guardrail.Render(plannerBasePrompt(sess, refs), project.AgentSettings, guardrail.ModeRedesign, e.manifest.Current())
	h, waitErr := e.spawnAndWait(ctx, sr, supervisor.Spec{
		ProjectID:     project.ID,
		Kind:          registry.RunRedesign,
		ModelID:       project.AgentSettings.ModelID,
		SystemPrompt:  prompt,
		WorkspacePath: project.WorkspacePath,
		MCPEndpoint:   e.mcpEndpoint,
	})
	if err := e.waitOutcome(sr, h, waitErr, "planning"); err != nil {
		return err
	}

	updated, err := e.registry.GetRedesignSession(sess.ID)
	if err != nil {
		return err
	}
	if updated.ChangePlan == nil {
		return apperr.New(apperr.InvariantViolation, "planning run exited without calling write_plan")
	}
	return e.advance(sess.ID, registry.RedesignApproving)
}

// runImplementing spawns the main coding agent with the ChangePlan as
// input. It touches each phase's files in order, calling
// require_phase_approval before each one; that tool call is what
// actually suspends on an unapproved phase, not this method (spec.md
// §4.7 step 5).
func (e *Engine) runImplementing(ctx context.Context, sr *sessionRun, sess *registry.RedesignSession, project *registry.Project) error {
	refs, err := e.registry.ListReferences(sess.ID)
	if err != nil {
		return err
	}

	prompt := guardrail.Render(implementerBasePrompt(sess, refs), project.AgentSettings, guardrail.ModeRedesign, e.manifest.Current())
	h, waitErr := e.spawnAndWait(ctx, sr, supervisor.Spec{
		ProjectID:     project.ID,
		Kind:          registry.RunRedesign,
		ModelID:       project.AgentSettings.ModelID,
		SystemPrompt:  prompt,
		WorkspacePath: project.WorkspacePath,
		MCPEndpoint:   e.mcpEndpoint,
	})
	if err := e.waitOutcome(sr, h, waitErr, "implementing"); err != nil {
		return err
	}
	return e.advance(sess.ID, registry.RedesignVerifying)
}

// runVerifying spawns the end-to-end verification agent once every
// phase has been applied, advancing to done on success. A failed
// verification run leaves the session at verifying for a subsequent
// "redesign start" to retry rather than silently marking it done.
func (e *Engine) runVerifying(ctx context.Context, sr *sessionRun, sess *registry.RedesignSession, project *registry.Project) error {
	prompt := guardrail.Render(verifierBasePrompt(sess), project.AgentSettings, guardrail.ModeRedesign, e.manifest.Current())
	h, waitErr := e.spawnAndWait(ctx, sr, supervisor.Spec{
		ProjectID:     project.ID,
		Kind:          registry.RunRedesign,
		ModelID:       project.AgentSettings.ModelID,
		SystemPrompt:  prompt,
		WorkspacePath: project.WorkspacePath,
		MCPEndpoint:   e.mcpEndpoint,
	})
	if err := e.waitOutcome(sr, h, waitErr, "verifying"); err != nil {
		return err
	}
	return e.advance(sess.ID, registry.RedesignDone)
}
