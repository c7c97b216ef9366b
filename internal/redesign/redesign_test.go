package redesign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/eventbus"
	"github.com/nek1987/auto-agent-harness/internal/guardrail"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/supervisor"
)

// shSpawner drives every Spawn through a harmless real `sh` subprocess,
// the same test-seam convention internal/orchestrator's tests use.
type shSpawner struct {
	sup *supervisor.Supervisor
	cmd string
}

func (s *shSpawner) Spawn(ctx context.Context, spec supervisor.Spec) (*supervisor.Handle, error) {
	spec.Binary = "sh"
	spec.Args = []string{"-c", s.cmd}
	return s.sup.Spawn(ctx, spec)
}

func testManifestWatcher() *guardrail.Watcher {
	w, _, err := guardrail.NewWatcher("")
	if err != nil {
		panic(err)
	}
	return w
}

func newTestEngine(t *testing.T, cmd string) (*Engine, *registry.Store) {
	t.Helper()
	store, err := registry.Open(registry.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.New(nil)
	sup := supervisor.New(store, bus, 4)
	spawner := &shSpawner{sup: sup, cmd: cmd}

	engine := New(store, spawner, bus, testManifestWatcher(), "mcp://test")
	return engine, store
}

func testTokens() registry.DesignTokens {
	return registry.DesignTokens{Color: map[string]string{"bg": "#fff"}}
}

func testPlan() registry.ChangePlan {
	return registry.ChangePlan{Phases: []registry.Phase{
		{Key: registry.PhaseGlobals, Operations: []registry.Operation{{TargetPath: "globals.css", Kind: registry.OpModify}}},
	}}
}

// simulateAgentWrites plays the role of the MCP tool surface: each time
// a new run appears for the session, it writes whatever artifact that
// phase's agent is responsible for before the run exits.
func simulateAgentWrites(t *testing.T, store *registry.Store, sessionID string) {
	t.Helper()
	go func() {
		seen := map[string]bool{}
		for i := 0; i < 400; i++ {
			sess, err := store.GetRedesignSession(sessionID)
			if err != nil {
				return
			}
			if registry.TerminalRedesignStatuses[sess.Status] {
				return
			}
			run, err := store.GetActiveRun(sess.ProjectID)
			if err == nil && !seen[run.ID] {
				seen[run.ID] = true
				switch sess.Status {
				case registry.RedesignExtracting:
					_ = store.WriteExtractedTokens(sessionID, testTokens())
				case registry.RedesignPlanning:
					_ = store.WriteChangePlan(sessionID, testPlan())
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestRun_DrivesFullLifecycleToDone(t *testing.T) {
	engine, store := newTestEngine(t, "sleep 0.02; exit 0")
	p, err := store.CreateProject("demo", t.TempDir(), registry.AgentSettings{ModelID: "m"})
	require.NoError(t, err)
	sess, err := store.CreateRedesignSession(p.ID, "modern, airy")
	require.NoError(t, err)

	simulateAgentWrites(t, store, sess.ID)

	err = engine.Run(context.Background(), sess.ID)
	require.NoError(t, err)

	final, err := store.GetRedesignSession(sess.ID)
	require.NoError(t, err)
	require.Equal(t, registry.RedesignDone, final.Status)
	require.NotNil(t, final.ExtractedTokens)
	require.NotNil(t, final.ChangePlan)
}

func TestRun_FailsWhenExtractorNeverWritesTokens(t *testing.T) {
	engine, store := newTestEngine(t, "exit 0")
	p, err := store.CreateProject("demo", t.TempDir(), registry.AgentSettings{ModelID: "m"})
	require.NoError(t, err)
	sess, err := store.CreateRedesignSession(p.ID, "modern, airy")
	require.NoError(t, err)

	err = engine.Run(context.Background(), sess.ID)
	require.Error(t, err)
	require.Equal(t, apperr.InvariantViolation, apperr.KindOf(err))

	final, err := store.GetRedesignSession(sess.ID)
	require.NoError(t, err)
	require.Equal(t, registry.RedesignExtracting, final.Status)
}

func TestRun_RejectsConcurrentRunForSameSession(t *testing.T) {
	engine, store := newTestEngine(t, "sleep 0.3; exit 0")
	p, err := store.CreateProject("demo", t.TempDir(), registry.AgentSettings{ModelID: "m"})
	require.NoError(t, err)
	sess, err := store.CreateRedesignSession(p.ID, "modern, airy")
	require.NoError(t, err)
	simulateAgentWrites(t, store, sess.ID)

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background(), sess.ID) }()
	time.Sleep(30 * time.Millisecond)

	err = engine.Run(context.Background(), sess.ID)
	require.Error(t, err)
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))

	<-done
}

func TestRun_CancelStopsLifecycle(t *testing.T) {
	engine, store := newTestEngine(t, "sleep 2")
	p, err := store.CreateProject("demo", t.TempDir(), registry.AgentSettings{ModelID: "m"})
	require.NoError(t, err)
	sess, err := store.CreateRedesignSession(p.ID, "modern, airy")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background(), sess.ID) }()
	time.Sleep(30 * time.Millisecond)
	engine.Cancel(sess.ID)

	select {
	case err := <-done:
		require.Error(t, err)
		require.Equal(t, apperr.Cancelled, apperr.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	final, err := store.GetRedesignSession(sess.ID)
	require.NoError(t, err)
	require.Equal(t, registry.RedesignCancelled, final.Status)
}

func TestAwait_ReturnsImmediatelyWhenAlreadyApproved(t *testing.T) {
	engine, store := newTestEngine(t, "exit 0")
	p, err := store.CreateProject("demo", t.TempDir(), registry.AgentSettings{ModelID: "m"})
	require.NoError(t, err)
	sess, err := store.CreateRedesignSession(p.ID, "brief")
	require.NoError(t, err)
	require.NoError(t, store.RecordPhaseApproval(sess.ID, registry.PhaseGlobals))

	err = engine.Await(context.Background(), sess.ID, registry.PhaseGlobals)
	require.NoError(t, err)
}

func TestAwait_BlocksUntilApprove(t *testing.T) {
	engine, store := newTestEngine(t, "exit 0")
	p, err := store.CreateProject("demo", t.TempDir(), registry.AgentSettings{ModelID: "m"})
	require.NoError(t, err)
	sess, err := store.CreateRedesignSession(p.ID, "brief")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- engine.Await(context.Background(), sess.ID, registry.PhaseConfig) }()

	select {
	case <-done:
		t.Fatal("Await returned before approval")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, engine.Approve(sess.ID, registry.PhaseConfig))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Await did not unblock after Approve")
	}
}

func TestAwait_CancelWakesWaitersWithCancelledError(t *testing.T) {
	engine, store := newTestEngine(t, "sleep 2")
	p, err := store.CreateProject("demo", t.TempDir(), registry.AgentSettings{ModelID: "m"})
	require.NoError(t, err)
	sess, err := store.CreateRedesignSession(p.ID, "brief")
	require.NoError(t, err)

	// Park an Await the way the implementing-phase agent's
	// require_phase_approval call would, independent of any Run call.
	done := make(chan error, 1)
	go func() { done <- engine.Await(context.Background(), sess.ID, registry.PhasePages) }()
	time.Sleep(20 * time.Millisecond)

	// Cancel requires a tracked sessionRun to exist; start one via Run
	// then cancel it, which wakes every parked Await for the session.
	runDone := make(chan error, 1)
	go func() { runDone <- engine.Run(context.Background(), sess.ID) }()
	time.Sleep(20 * time.Millisecond)
	engine.Cancel(sess.ID)
	<-runDone

	select {
	case err := <-done:
		require.Error(t, err)
		require.Equal(t, apperr.Cancelled, apperr.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("Await did not wake on cancellation")
	}
}
