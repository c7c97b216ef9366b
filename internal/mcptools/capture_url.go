package mcptools

import (
	"context"
	"encoding/base64"

	"github.com/mark3labs/mcp-go/mcp"
)

// URLCapturer is the browser collaborator capture_url delegates to. The
// Redesign Ingest implements this with a headless go-rod browser.
type URLCapturer interface {
	CaptureURL(ctx context.Context, url string, viewportWidth, viewportHeight int) (imageBytes []byte, mimeType string, err error)
}

// CaptureURLTool handles the redesign-only capture_url browser MCP tool.
type CaptureURLTool struct {
	browser URLCapturer
}

// NewCaptureURLTool creates a CaptureURLTool.
func NewCaptureURLTool(browser URLCapturer) *CaptureURLTool {
	return &CaptureURLTool{browser: browser}
}

// Definition returns the MCP tool definition for registration.
func (t *CaptureURLTool) Definition() mcp.Tool {
	return mcp.NewTool("capture_url",
		mcp.WithDescription("Render the given URL in a headless browser and return a screenshot."),
		mcp.WithString("url", mcp.Required(), mcp.Description("URL to capture")),
		mcp.WithNumber("viewport_width", mcp.Description("Viewport width in pixels, default 1440")),
		mcp.WithNumber("viewport_height", mcp.Description("Viewport height in pixels, default 900")),
	)
}

// Handle processes the capture_url tool call.
func (t *CaptureURLTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url := req.GetString("url", "")
	if url == "" {
		return mcp.NewToolResultError("'url' is required"), nil
	}
	width := int(req.GetFloat("viewport_width", 1440))
	height := int(req.GetFloat("viewport_height", 900))

	img, mimeType, err := t.browser.CaptureURL(ctx, url, width, height)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultImage("capture_url screenshot", base64.StdEncoding.EncodeToString(img), mimeType), nil
}
