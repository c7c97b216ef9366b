package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_RejectsRelativeRoot(t *testing.T) {
	if _, err := New("relative/path", ""); err == nil {
		t.Error("expected error for relative root")
	}
}

func TestNew_RejectsPathOutsideAllowedRoot(t *testing.T) {
	allowed := t.TempDir()
	outside := filepath.Join(filepath.Dir(allowed), "somewhere-else")
	if _, err := New(outside, allowed); err == nil {
		t.Error("expected error for path escaping allowed root")
	}
}

func TestNew_AcceptsPathInsideAllowedRoot(t *testing.T) {
	allowed := t.TempDir()
	inside := filepath.Join(allowed, "project-a")
	l, err := New(inside, allowed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Root != inside {
		t.Errorf("Root = %s, want %s", l.Root, inside)
	}
}

func TestLayout_Paths(t *testing.T) {
	l := Layout{Root: "/ws/proj"}

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"AppSpecPath", l.AppSpecPath(), filepath.Join("/ws/proj", "prompts", "app_spec.txt")},
		{"SpecManifestPath", l.SpecManifestPath(), filepath.Join("/ws/proj", "prompts", ".spec_manifest.json")},
		{"FeaturesSnapshotPath", l.FeaturesSnapshotPath(), filepath.Join("/ws/proj", ".auto-agent", "features.json")},
		{"AgentSettingsPath", l.AgentSettingsPath(), filepath.Join("/ws/proj", ".auto-agent", "agent_settings.json")},
		{"RedesignTokensPath", l.RedesignTokensPath("abc"), filepath.Join("/ws/proj", ".auto-agent", "redesign", "session-abc", "tokens.json")},
		{"RedesignPlanPath", l.RedesignPlanPath("abc"), filepath.Join("/ws/proj", ".auto-agent", "redesign", "session-abc", "plan.json")},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %s, want %s", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestEnsure_CreatesDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "proj")
	l := Layout{Root: root}
	if err := l.Ensure(); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	for _, d := range []string{l.Prompts(), l.SpecVersionsDir(), l.SpecUpdatesDir(), l.AutoAgentDir()} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", d)
		}
	}
}
