// Package orchestrator implements the Run Orchestrator of spec.md §4.5:
// it drives one project through IDLE -> INITIALIZING -> FEATURE_LOOP ->
// REGRESSION -> IDLE, spawning Process Supervisor runs at each step and
// reacting to their terminal events. Cancellation is cooperative: a
// cancel flag is observed at each scheduling point, mirrored on the
// active Supervisor Handle.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/eventbus"
	"github.com/nek1987/auto-agent-harness/internal/guardrail"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/supervisor"
)

// DefaultMaxAttempts is how many times the FEATURE_LOOP retries a
// feature whose run exits without resolving it before escalating to
// needs_review (spec.md §4.5: "after a bounded retry count").
const DefaultMaxAttempts = 3

// Coordinator is the narrow Registry dependency the orchestrator needs:
// enough to read project/spec/feature state and drive Feature
// transitions that are not gated behind a run's own claim (those are
// the MCP Tool Surface's job; the orchestrator only intervenes when a
// run exits without resolving the feature it was scoped to).
type Coordinator interface {
	GetProject(id string) (*registry.Project, error)
	GetActiveSpec(projectID string) (*registry.SpecArtifact, error)
	ListFeatures(projectID string) ([]registry.Feature, error)
	GetFeature(projectID, featureID string) (*registry.Feature, error)
	IncrementAttempt(projectID, featureID, lastError string) (*registry.Feature, error)
	ClaimFeature(projectID, featureID, runID string) (*registry.Feature, error)
	MarkFeatureNeedsReview(projectID, featureID, runID, reason string) (*registry.Feature, error)
	UnclaimFeature(projectID, featureID, runID string) (*registry.Feature, error)
}

// Spawner is the narrow Process Supervisor dependency: launch a
// subprocess and hand back its live Handle.
type Spawner interface {
	Spawn(ctx context.Context, spec supervisor.Spec) (*supervisor.Handle, error)
}

// Publisher is the narrow Event Bus dependency.
type Publisher interface {
	Publish(topic string, payload any) (eventbus.Event, error)
}

// FeatureEvent is published to project.<id>.feature on every orchestrator-
// driven Feature state change (spec.md §4.6).
type FeatureEvent struct {
	FeatureID string `json:"feature_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// projectRun tracks the one in-flight Run call for a project, so Cancel
// can reach its active Handle and a second concurrent Run is rejected.
type projectRun struct {
	mu       sync.Mutex
	cancelCh chan struct{}
	active   *supervisor.Handle
}

// Orchestrator drives projects through their execution lifecycle.
type Orchestrator struct {
	registry    Coordinator
	spawner     Spawner
	bus         Publisher
	manifest    *guardrail.Watcher
	mcpEndpoint string
	maxAttempts int

	mu   sync.Mutex
	runs map[string]*projectRun
}

// New creates an Orchestrator. mcpEndpoint is the address handed to
// every spawned subprocess's environment so its MCP client can reach
// this harness's tool surface.
func New(reg Coordinator, spawner Spawner, bus Publisher, manifest *guardrail.Watcher, mcpEndpoint string) *Orchestrator {
	return &Orchestrator{
		registry:    reg,
		spawner:     spawner,
		bus:         bus,
		manifest:    manifest,
		mcpEndpoint: mcpEndpoint,
		maxAttempts: DefaultMaxAttempts,
		runs:        make(map[string]*projectRun),
	}
}

// Run drives projectID through one complete pass of the lifecycle,
// blocking until it reaches IDLE (done, failed, or cancelled). Callers
// invoke this from its own goroutine per "run start".
func (o *Orchestrator) Run(ctx context.Context, projectID string) error {
	pr, err := o.begin(projectID)
	if err != nil {
		return err
	}
	defer o.end(projectID)

	project, err := o.registry.GetProject(projectID)
	if err != nil {
		return err
	}

	features, err := o.registry.ListFeatures(projectID)
	if err != nil {
		return err
	}

	// A project with no backlog yet starts at INITIALIZING; a project
	// resuming after a prior pass (including one that reopened features
	// during REGRESSION) re-enters directly at FEATURE_LOOP, since the
	// initializer's replace_features bootstrap is one-shot (spec.md §4.5).
	if len(features) == 0 {
		if err := o.runInitializing(ctx, pr, project); err != nil {
			return err
		}
	}

	if err := o.runFeatureLoop(ctx, pr, project); err != nil {
		return err
	}

	return o.runRegression(ctx, pr, project)
}

// Active reports whether projectID currently has an in-flight Run, so
// a control-plane caller can reject a second "run start" with Conflict
// before ever spawning a subprocess.
func (o *Orchestrator) Active(projectID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[projectID]
	return ok
}

// Cancel requests cooperative cancellation of projectID's in-flight
// Run, if any. It is a no-op if nothing is running.
func (o *Orchestrator) Cancel(projectID string) {
	o.mu.Lock()
	pr, ok := o.runs[projectID]
	o.mu.Unlock()
	if !ok {
		return
	}
	pr.mu.Lock()
	select {
	case <-pr.cancelCh:
	default:
		close(pr.cancelCh)
	}
	h := pr.active
	pr.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

func (o *Orchestrator) begin(projectID string) (*projectRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.runs[projectID]; ok {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("project %q already has an active run", projectID))
	}
	pr := &projectRun{cancelCh: make(chan struct{})}
	o.runs[projectID] = pr
	return pr, nil
}

func (o *Orchestrator) end(projectID string) {
	o.mu.Lock()
	delete(o.runs, projectID)
	o.mu.Unlock()
}

func (o *Orchestrator) cancelled(pr *projectRun) bool {
	select {
	case <-pr.cancelCh:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) track(pr *projectRun, h *supervisor.Handle) {
	pr.mu.Lock()
	pr.active = h
	pr.mu.Unlock()
}

func (o *Orchestrator) untrack(pr *projectRun) {
	pr.mu.Lock()
	pr.active = nil
	pr.mu.Unlock()
}

// spawnAndWait launches spec and blocks for its terminal event, honoring
// cooperative cancellation before the spawn itself.
func (o *Orchestrator) spawnAndWait(ctx context.Context, pr *projectRun, spec supervisor.Spec) (*supervisor.Handle, error) {
	if o.cancelled(pr) {
		return nil, apperr.New(apperr.Cancelled, "run cancelled before spawn")
	}
	h, err := o.spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}
	o.track(pr, h)
	defer o.untrack(pr)
	waitErr := h.Wait()
	return h, waitErr
}

func (o *Orchestrator) publishFeature(projectID string, ev FeatureEvent) {
	_, _ = o.bus.Publish(fmt.Sprintf("project.%s.feature", projectID), ev)
}
