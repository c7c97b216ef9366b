package mcptools

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// --- shared test helpers ---

func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

func getResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func reqWithArgs(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// --- stub collaborators ---

type stubFeatureLister struct {
	features []registry.Feature
	err      error
}

func (s *stubFeatureLister) ListFeatures(projectID string) ([]registry.Feature, error) {
	return s.features, s.err
}

type stubFeatureClaimer struct {
	gotProject, gotFeature, gotRun string
	result                         *registry.Feature
	err                            error
}

func (s *stubFeatureClaimer) ClaimFeature(projectID, featureID, runID string) (*registry.Feature, error) {
	s.gotProject, s.gotFeature, s.gotRun = projectID, featureID, runID
	return s.result, s.err
}

type stubFeatureCompleter struct {
	gotArtifacts []string
	result       *registry.Feature
	err          error
}

func (s *stubFeatureCompleter) CompleteFeature(projectID, featureID, runID, summary string, artifacts []string) (*registry.Feature, error) {
	s.gotArtifacts = artifacts
	return s.result, s.err
}

type stubRedesignSessionGetter struct {
	session *registry.RedesignSession
	err     error
}

func (s *stubRedesignSessionGetter) GetRedesignSession(id string) (*registry.RedesignSession, error) {
	return s.session, s.err
}

type stubApprovalWaiter struct {
	err      error
	awaited  bool
	blockFor time.Duration
}

func (s *stubApprovalWaiter) Await(ctx context.Context, sessionID string, phase registry.PhaseKey) error {
	s.awaited = true
	if s.blockFor > 0 {
		select {
		case <-time.After(s.blockFor):
		case <-ctx.Done():
			return apperr.New(apperr.Cancelled, "cancelled")
		}
	}
	return s.err
}

var errBoom = errors.New("boom")
