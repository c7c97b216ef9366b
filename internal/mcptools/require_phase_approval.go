package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// RedesignSessionGetter is the fast-path Registry dependency
// require_phase_approval uses to avoid suspending when the phase is
// already approved.
type RedesignSessionGetter interface {
	GetRedesignSession(id string) (*registry.RedesignSession, error)
}

// ApprovalWaiter is the suspension mechanism require_phase_approval
// relies on: "register a waiter, release the worker, resume on approval
// event" (spec.md §9). The Redesign Engine implements this with
// per-(session, phase) waiter channels that Engine.Approve signals after
// recording the approval through RecordPhaseApproval.
type ApprovalWaiter interface {
	Await(ctx context.Context, sessionID string, phase registry.PhaseKey) error
}

// RequirePhaseApprovalTool handles the redesign-only
// require_phase_approval MCP tool. Unlike every other tool in this
// package, its Handle call may block for an arbitrarily long time —
// the MCP response is withheld until the phase is approved or the
// session is cancelled (spec.md §4.3, §4.7 step 5).
type RequirePhaseApprovalTool struct {
	sessions RedesignSessionGetter
	waiter   ApprovalWaiter
}

// NewRequirePhaseApprovalTool creates a RequirePhaseApprovalTool.
func NewRequirePhaseApprovalTool(sessions RedesignSessionGetter, waiter ApprovalWaiter) *RequirePhaseApprovalTool {
	return &RequirePhaseApprovalTool{sessions: sessions, waiter: waiter}
}

// Definition returns the MCP tool definition for registration.
func (t *RequirePhaseApprovalTool) Definition() mcp.Tool {
	return mcp.NewTool("require_phase_approval",
		mcp.WithDescription("Suspend until the user approves the given ChangePlan phase for this "+
			"Redesign session. Returns immediately if the phase is already approved. On "+
			"cancellation, returns a cancelled error."),
		mcp.WithString("session", mcp.Required(), mcp.Description("RedesignSession id")),
		mcp.WithString("phase", mcp.Required(), mcp.Description("Phase key: globals, config, components, or pages")),
	)
}

// Handle processes the require_phase_approval tool call.
func (t *RequirePhaseApprovalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	phaseStr := req.GetString("phase", "")
	if session == "" || phaseStr == "" {
		return mcp.NewToolResultError("'session' and 'phase' are required"), nil
	}
	phase := registry.PhaseKey(phaseStr)

	sess, err := t.sessions.GetRedesignSession(session)
	if err != nil {
		return toolError(err)
	}
	if _, approved := sess.PhaseApprovals[phase]; approved {
		return mcp.NewToolResultText(fmt.Sprintf("phase %q already approved", phase)), nil
	}

	if err := t.waiter.Await(ctx, session, phase); err != nil {
		if apperr.KindOf(err) == apperr.Cancelled {
			return toolError(err)
		}
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("phase %q approved", phase)), nil
}
