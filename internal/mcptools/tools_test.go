package mcptools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/eventbus"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

func TestListFeaturesTool_Definition(t *testing.T) {
	tool := NewListFeaturesTool(&stubFeatureLister{})
	if got := tool.Definition().Name; got != "list_features" {
		t.Errorf("name = %q, want list_features", got)
	}
}

func TestListFeaturesTool_Handle_RendersTable(t *testing.T) {
	store := &stubFeatureLister{features: []registry.Feature{
		{Ordinal: 1, ID: "feat-1", Title: "Login", Category: registry.CategoryUI, Status: registry.FeaturePending},
	}}
	tool := NewListFeaturesTool(store)

	result, err := tool.Handle(context.Background(), reqWithArgs(map[string]any{"project": "proj-1"}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if text := getResultText(result); !strings.Contains(text, "feat-1") || !strings.Contains(text, "Login") {
		t.Errorf("result missing feature row: %s", text)
	}
}

func TestListFeaturesTool_Handle_RequiresProject(t *testing.T) {
	tool := NewListFeaturesTool(&stubFeatureLister{})
	result, _ := tool.Handle(context.Background(), reqWithArgs(map[string]any{}))
	if !isErrorResult(result) {
		t.Fatal("expected error result when 'project' is missing")
	}
}

func TestClaimFeatureTool_Handle_UsesRunIDFromContext(t *testing.T) {
	store := &stubFeatureClaimer{result: &registry.Feature{ID: "feat-1", Status: registry.FeatureInProgress}}
	tool := NewClaimFeatureTool(store)
	ctx := WithRunID(context.Background(), "run-42")

	result, err := tool.Handle(ctx, reqWithArgs(map[string]any{"project": "proj-1", "feature_id": "feat-1"}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if store.gotRun != "run-42" {
		t.Errorf("run id = %q, want run-42", store.gotRun)
	}
	if store.gotProject != "proj-1" || store.gotFeature != "feat-1" {
		t.Errorf("unexpected project/feature passed through: %q/%q", store.gotProject, store.gotFeature)
	}
}

func TestClaimFeatureTool_Handle_TranslatesConflictError(t *testing.T) {
	store := &stubFeatureClaimer{err: apperr.New(apperr.Conflict, "another feature is already in_progress")}
	tool := NewClaimFeatureTool(store)

	result, err := tool.Handle(context.Background(), reqWithArgs(map[string]any{"project": "proj-1", "feature_id": "feat-1"}))
	if err != nil {
		t.Fatalf("Handle should translate apperr.Conflict into a tool error, not a Go error: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected error result for a conflicting claim")
	}
	if !strings.Contains(getResultText(result), "conflict") {
		t.Errorf("result should surface the error kind: %s", getResultText(result))
	}
}

func TestMarkCompleteTool_Handle_ParsesArtifactsJSON(t *testing.T) {
	store := &stubFeatureCompleter{result: &registry.Feature{ID: "feat-1", Status: registry.FeatureDone}}
	tool := NewMarkCompleteTool(store)

	_, err := tool.Handle(context.Background(), reqWithArgs(map[string]any{
		"project":    "proj-1",
		"feature_id": "feat-1",
		"summary":    "added the login form",
		"artifacts":  `["internal/login/handler.go", "internal/login/handler_test.go"]`,
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(store.gotArtifacts) != 2 || store.gotArtifacts[0] != "internal/login/handler.go" {
		t.Errorf("artifacts not parsed correctly: %v", store.gotArtifacts)
	}
}

func TestMarkCompleteTool_Handle_RejectsMalformedArtifactsJSON(t *testing.T) {
	tool := NewMarkCompleteTool(&stubFeatureCompleter{})

	result, err := tool.Handle(context.Background(), reqWithArgs(map[string]any{
		"project":    "proj-1",
		"feature_id": "feat-1",
		"summary":    "done",
		"artifacts":  "not json",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected error result for malformed artifacts JSON")
	}
}

func TestMarkCompleteTool_Handle_RequiresSummary(t *testing.T) {
	tool := NewMarkCompleteTool(&stubFeatureCompleter{})
	result, _ := tool.Handle(context.Background(), reqWithArgs(map[string]any{
		"project": "proj-1", "feature_id": "feat-1",
	}))
	if !isErrorResult(result) {
		t.Fatal("expected error result when 'summary' is missing")
	}
}

func TestAppendLogTool_Handle_RejectsMismatchedRunID(t *testing.T) {
	bus := &stubLogPublisher{}
	tool := NewAppendLogTool(bus)
	ctx := WithRunID(context.Background(), "run-42")

	result, err := tool.Handle(ctx, reqWithArgs(map[string]any{
		"run_id": "run-999", "level": "info", "message": "hi",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected error result for mismatched run_id")
	}
	if bus.published {
		t.Error("should not publish a log line for an unauthorized run_id")
	}
}

func TestAppendLogTool_Handle_PublishesToPerRunTopic(t *testing.T) {
	bus := &stubLogPublisher{}
	tool := NewAppendLogTool(bus)
	ctx := WithRunID(context.Background(), "run-42")

	_, err := tool.Handle(ctx, reqWithArgs(map[string]any{
		"run_id": "run-42", "level": "warn", "message": "disk almost full",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if bus.gotTopic != "run.run-42.log" {
		t.Errorf("topic = %q, want run.run-42.log", bus.gotTopic)
	}
	line, ok := bus.gotPayload.(LogLine)
	if !ok || line.Level != "warn" || line.Message != "disk almost full" {
		t.Errorf("unexpected payload: %#v", bus.gotPayload)
	}
}

func TestAppendLogTool_Handle_AllowsCallWithNoContextRunID(t *testing.T) {
	bus := &stubLogPublisher{}
	tool := NewAppendLogTool(bus)

	result, err := tool.Handle(context.Background(), reqWithArgs(map[string]any{
		"run_id": "run-42", "level": "info", "message": "hi",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
}

func TestRequirePhaseApprovalTool_Handle_FastPathWhenAlreadyApproved(t *testing.T) {
	sessions := &stubRedesignSessionGetter{session: &registry.RedesignSession{
		PhaseApprovals: map[registry.PhaseKey]time.Time{registry.PhaseGlobals: time.Unix(0, 0)},
	}}
	waiter := &stubApprovalWaiter{}
	tool := NewRequirePhaseApprovalTool(sessions, waiter)

	result, err := tool.Handle(context.Background(), reqWithArgs(map[string]any{
		"session": "sess-1", "phase": "globals",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if waiter.awaited {
		t.Error("should not suspend when the phase is already approved")
	}
}

func TestRequirePhaseApprovalTool_Handle_SuspendsUntilApproved(t *testing.T) {
	sessions := &stubRedesignSessionGetter{session: &registry.RedesignSession{
		PhaseApprovals: map[registry.PhaseKey]time.Time{},
	}}
	waiter := &stubApprovalWaiter{blockFor: 10 * time.Millisecond}
	tool := NewRequirePhaseApprovalTool(sessions, waiter)

	result, err := tool.Handle(context.Background(), reqWithArgs(map[string]any{
		"session": "sess-1", "phase": "config",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !waiter.awaited {
		t.Error("should have suspended on the waiter")
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
}

func TestRequirePhaseApprovalTool_Handle_CancellationReturnsCancelledError(t *testing.T) {
	sessions := &stubRedesignSessionGetter{session: &registry.RedesignSession{
		PhaseApprovals: map[registry.PhaseKey]time.Time{},
	}}
	waiter := &stubApprovalWaiter{blockFor: time.Hour}
	tool := NewRequirePhaseApprovalTool(sessions, waiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := tool.Handle(ctx, reqWithArgs(map[string]any{
		"session": "sess-1", "phase": "pages",
	}))
	if err != nil {
		t.Fatalf("Handle should translate cancellation into a tool error, not a Go error: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected error result on cancellation")
	}
	if !strings.Contains(getResultText(result), "cancelled") {
		t.Errorf("result should surface the cancelled kind: %s", getResultText(result))
	}
}

// --- additional stub used only in this file ---

type stubLogPublisher struct {
	published  bool
	gotTopic   string
	gotPayload any
}

func (s *stubLogPublisher) Publish(topic string, payload any) (eventbus.Event, error) {
	s.published = true
	s.gotTopic = topic
	s.gotPayload = payload
	return eventbus.Event{Topic: topic}, nil
}

var _ = errBoom
