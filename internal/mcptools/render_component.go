package mcptools

import (
	"context"
	"encoding/base64"

	"github.com/mark3labs/mcp-go/mcp"
)

// ComponentRenderer is the browser collaborator render_component
// delegates to: mount the referenced archive in a sandboxed dev server
// and screenshot the element matching selector.
type ComponentRenderer interface {
	RenderComponent(ctx context.Context, archiveRef, selector string) (imageBytes []byte, mimeType string, err error)
}

// RenderComponentTool handles the redesign-only render_component browser MCP tool.
type RenderComponentTool struct {
	browser ComponentRenderer
}

// NewRenderComponentTool creates a RenderComponentTool.
func NewRenderComponentTool(browser ComponentRenderer) *RenderComponentTool {
	return &RenderComponentTool{browser: browser}
}

// Definition returns the MCP tool definition for registration.
func (t *RenderComponentTool) Definition() mcp.Tool {
	return mcp.NewTool("render_component",
		mcp.WithDescription("Mount the referenced archive's component and return a screenshot of the matched selector."),
		mcp.WithString("archive_ref", mcp.Required(), mcp.Description("Reference id for the ingested archive")),
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector of the element to capture")),
	)
}

// Handle processes the render_component tool call.
func (t *RenderComponentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	archiveRef := req.GetString("archive_ref", "")
	selector := req.GetString("selector", "")
	if archiveRef == "" || selector == "" {
		return mcp.NewToolResultError("'archive_ref' and 'selector' are required"), nil
	}

	img, mimeType, err := t.browser.RenderComponent(ctx, archiveRef, selector)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultImage("render_component screenshot", base64.StdEncoding.EncodeToString(img), mimeType), nil
}
