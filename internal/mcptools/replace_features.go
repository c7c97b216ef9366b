package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// FeatureReplacer is the narrow Registry dependency replace_features
// needs.
type FeatureReplacer interface {
	ReplaceFeatures(projectID string, features []registry.Feature) error
}

// replaceFeaturesEntry is the wire shape the initializer agent emits
// one of per backlog item; it omits every field only the Registry or a
// later claim assigns (id, status, attempt_count, claimed_by_run_id,
// summary, artifacts).
type replaceFeaturesEntry struct {
	Ordinal     int                     `json:"ordinal"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Category    registry.FeatureCategory `json:"category"`
	DependsOn   []string                `json:"depends_on"`
}

// ReplaceFeaturesTool handles the replace_features MCP tool: the
// initializer agent's one-shot bootstrap write of the full feature
// backlog (spec.md §4.1, §4.5 INITIALIZING).
type ReplaceFeaturesTool struct {
	store FeatureReplacer
}

// NewReplaceFeaturesTool creates a ReplaceFeaturesTool.
func NewReplaceFeaturesTool(store FeatureReplacer) *ReplaceFeaturesTool {
	return &ReplaceFeaturesTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ReplaceFeaturesTool) Definition() mcp.Tool {
	return mcp.NewTool("replace_features",
		mcp.WithDescription("Replace a project's entire feature backlog. Called once by the "+
			"initializer run; every feature starts pending with attempt_count 0."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("features", mcp.Required(),
			mcp.Description("JSON array of {ordinal, title, description, category, depends_on}")),
	)
}

// Handle processes the replace_features tool call.
func (t *ReplaceFeaturesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	raw := req.GetString("features", "")
	if project == "" || raw == "" {
		return mcp.NewToolResultError("'project' and 'features' are required"), nil
	}

	var entries []replaceFeaturesEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid features JSON: %s", err)), nil
	}

	features := make([]registry.Feature, len(entries))
	for i, e := range entries {
		features[i] = registry.Feature{
			ProjectID:   project,
			Ordinal:     e.Ordinal,
			Title:       e.Title,
			Description: e.Description,
			Category:    e.Category,
			DependsOn:   e.DependsOn,
		}
	}

	if err := t.store.ReplaceFeatures(project, features); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("replaced backlog with %d features", len(features))), nil
}
