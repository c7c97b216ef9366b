package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// FeatureClaimer is the narrow Registry dependency claim_feature needs.
type FeatureClaimer interface {
	ClaimFeature(projectID, featureID, runID string) (*registry.Feature, error)
}

// ClaimFeatureTool handles the claim_feature MCP tool.
type ClaimFeatureTool struct {
	store FeatureClaimer
}

// NewClaimFeatureTool creates a ClaimFeatureTool.
func NewClaimFeatureTool(store FeatureClaimer) *ClaimFeatureTool {
	return &ClaimFeatureTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ClaimFeatureTool) Definition() mcp.Tool {
	return mcp.NewTool("claim_feature",
		mcp.WithDescription("Claim a pending feature, transitioning it to in_progress. "+
			"Fails if another feature in the project is already in_progress."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("feature_id", mcp.Required(), mcp.Description("Feature id to claim")),
	)
}

// Handle processes the claim_feature tool call.
func (t *ClaimFeatureTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	featureID := req.GetString("feature_id", "")
	if project == "" || featureID == "" {
		return mcp.NewToolResultError("'project' and 'feature_id' are required"), nil
	}

	runID := RunIDFromContext(ctx)
	if _, err := t.store.ClaimFeature(project, featureID, runID); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("claimed feature %s", featureID)), nil
}
