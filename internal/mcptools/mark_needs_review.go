package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// FeatureReviewMarker is the narrow Registry dependency mark_needs_review needs.
type FeatureReviewMarker interface {
	MarkFeatureNeedsReview(projectID, featureID, runID, reason string) (*registry.Feature, error)
}

// MarkNeedsReviewTool handles the mark_needs_review MCP tool.
type MarkNeedsReviewTool struct {
	store FeatureReviewMarker
}

// NewMarkNeedsReviewTool creates a MarkNeedsReviewTool.
func NewMarkNeedsReviewTool(store FeatureReviewMarker) *MarkNeedsReviewTool {
	return &MarkNeedsReviewTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *MarkNeedsReviewTool) Definition() mcp.Tool {
	return mcp.NewTool("mark_needs_review",
		mcp.WithDescription("Flag the calling run's claimed feature as needing human review, "+
			"with a reason. The feature is then surfaced to the user and skipped by the feature loop."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("feature_id", mcp.Required(), mcp.Description("Feature id to flag")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why this feature needs review")),
	)
}

// Handle processes the mark_needs_review tool call.
func (t *MarkNeedsReviewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	featureID := req.GetString("feature_id", "")
	reason := req.GetString("reason", "")
	if project == "" || featureID == "" || reason == "" {
		return mcp.NewToolResultError("'project', 'feature_id', and 'reason' are required"), nil
	}

	runID := RunIDFromContext(ctx)
	if _, err := t.store.MarkFeatureNeedsReview(project, featureID, runID, reason); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("feature %s marked needs_review", featureID)), nil
}
