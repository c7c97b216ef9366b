package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// PlanWriter is the narrow Registry dependency write_plan needs.
type PlanWriter interface {
	WriteChangePlan(id string, plan registry.ChangePlan) error
}

// WritePlanTool handles the redesign-only write_plan MCP tool.
type WritePlanTool struct {
	store PlanWriter
}

// NewWritePlanTool creates a WritePlanTool.
func NewWritePlanTool(store PlanWriter) *WritePlanTool {
	return &WritePlanTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *WritePlanTool) Definition() mcp.Tool {
	return mcp.NewTool("write_plan",
		mcp.WithDescription("Emit the phase-ordered ChangePlan for a Redesign session's planning phase."),
		mcp.WithString("session", mcp.Required(), mcp.Description("RedesignSession id")),
		mcp.WithString("plan", mcp.Required(), mcp.Description("ChangePlan as JSON")),
	)
}

// Handle processes the write_plan tool call.
func (t *WritePlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := req.GetString("session", "")
	raw := req.GetString("plan", "")
	if session == "" || raw == "" {
		return mcp.NewToolResultError("'session' and 'plan' are required"), nil
	}

	var plan registry.ChangePlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'plan' must be valid ChangePlan JSON: %v", err)), nil
	}

	if err := t.store.WriteChangePlan(session, plan); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("plan recorded"), nil
}
