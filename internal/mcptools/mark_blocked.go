package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// FeatureBlocker is the narrow Registry dependency mark_blocked needs.
type FeatureBlocker interface {
	MarkFeatureBlocked(projectID, featureID, runID, reason string) (*registry.Feature, error)
}

// MarkBlockedTool handles the mark_blocked MCP tool.
type MarkBlockedTool struct {
	store FeatureBlocker
}

// NewMarkBlockedTool creates a MarkBlockedTool.
func NewMarkBlockedTool(store FeatureBlocker) *MarkBlockedTool {
	return &MarkBlockedTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *MarkBlockedTool) Definition() mcp.Tool {
	return mcp.NewTool("mark_blocked",
		mcp.WithDescription("Flag the calling run's claimed feature as blocked, with a reason "+
			"(e.g. a missing external dependency). A blocked feature returns to pending once unblocked."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("feature_id", mcp.Required(), mcp.Description("Feature id to flag")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why this feature is blocked")),
	)
}

// Handle processes the mark_blocked tool call.
func (t *MarkBlockedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	featureID := req.GetString("feature_id", "")
	reason := req.GetString("reason", "")
	if project == "" || featureID == "" || reason == "" {
		return mcp.NewToolResultError("'project', 'feature_id', and 'reason' are required"), nil
	}

	runID := RunIDFromContext(ctx)
	if _, err := t.store.MarkFeatureBlocked(project, featureID, runID, reason); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("feature %s marked blocked", featureID)), nil
}
