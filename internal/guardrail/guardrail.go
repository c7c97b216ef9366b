// Package guardrail implements the Guardrail Enforcer (spec.md §4.9): a
// pure function that renders the system prompt handed to an agent
// subprocess, folding in the project's AgentSettings, the run's mode,
// and a skills manifest as text obligations. Nothing here is
// executable sandboxing — the obligations are instructions the prompt
// states, the same way the teacher's internal/prompts package builds a
// fixed instruction sequence rather than enforcing it in code.
package guardrail

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
	"github.com/nek1987/auto-agent-harness/internal/speccompiler"
	"gopkg.in/yaml.v3"
)

// Mode is the run kind a prompt is being rendered for.
type Mode string

const (
	ModeInitializer Mode = "initializer"
	ModeCoding      Mode = "coding"
	ModeRegression  Mode = "regression"
	ModeRedesign    Mode = "redesign"
)

// Skill is one named prompt fragment loadable from a skills manifest.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Body        string `yaml:"body"`
}

// Manifest is the on-disk skills manifest (spec.md §4.9), parsed from
// YAML the same way the teacher's internal/config loads its project
// config from a human-editable file.
type Manifest struct {
	Skills []Skill `yaml:"skills"`
}

// SpecCreationSkillName is the skill pack name the initializer mode
// requires (spec.md §4.9: "for the initializer only, include the
// spec_creation skill pack").
const SpecCreationSkillName = "spec_creation"

// LoadManifest reads and parses a skills manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, apperr.Wrap(apperr.Internal, fmt.Sprintf("reading skill manifest %s", path), err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, apperr.Wrap(apperr.Internal, fmt.Sprintf("parsing skill manifest %s", path), err)
	}
	return m, nil
}

// Watcher holds a skills manifest that stays current with its backing
// file without requiring a daemon restart: operators edit the skill
// pack (spec.md §4.9's "spec_creation" pack included) and a running
// project picks up the change on its next prompt render. A failed
// reload (the file was mid-write, or is briefly invalid YAML) is
// swallowed and the previous good Manifest keeps serving — a guardrail
// prompt must never go out empty because of a torn write.
type Watcher struct {
	path    string
	current atomic.Value // Manifest
	watcher *fsnotify.Watcher
}

// NewWatcher loads path once synchronously, then starts a background
// fsnotify watch that reloads it on every write/create event. If
// path is empty, it returns a Watcher serving the zero Manifest and
// watches nothing (no skills manifest was configured). The returned
// cleanup func stops the watch.
func NewWatcher(path string) (*Watcher, func(), error) {
	w := &Watcher{path: path}
	if path == "" {
		w.current.Store(Manifest{})
		return w, func() {}, nil
	}

	m, err := LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	w.current.Store(m)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "starting skill manifest watcher", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, nil, apperr.Wrap(apperr.Internal, fmt.Sprintf("watching skill manifest %s", path), err)
	}
	w.watcher = fw

	go w.loop()

	return w, func() { _ = fw.Close() }, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if m, err := LoadManifest(w.path); err == nil {
				w.current.Store(m)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the most recently loaded Manifest.
func (w *Watcher) Current() Manifest {
	m, _ := w.current.Load().(Manifest)
	return m
}

func (m Manifest) find(name string) (Skill, bool) {
	for _, s := range m.Skills {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

// Render produces the fully rendered prompt for an agent subprocess,
// appending the obligations spec.md §4.9 enumerates after basePrompt.
func Render(basePrompt string, settings registry.AgentSettings, mode Mode, manifest Manifest) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(basePrompt, "\n"))
	b.WriteString("\n\n## Guardrails\n\n")

	b.WriteString("- Env/config policy: never hardcode URLs, API keys, or credentials. " +
		"Read configuration through the project's config layer.\n")

	if settings.RequireTDD {
		b.WriteString("- TDD policy: for any code-level logic, write a failing test before " +
			"writing the implementation that makes it pass.\n")
	}

	b.WriteString(fmt.Sprintf("- Model selection: you are running as %q. This has already been decided; "+
		"do not suggest or switch to a different model.\n", settings.ModelID))

	if mode == ModeInitializer {
		if skill, ok := manifest.find(SpecCreationSkillName); ok {
			b.WriteString("\n## Spec creation skill pack\n\n")
			b.WriteString(strings.TrimSpace(skill.Body))
			b.WriteString("\n")
		}
		b.WriteString("- Before emitting the final feature plan, run a coverage-review pass " +
			"over the spec to confirm every requirement maps to a feature.\n")
		b.WriteString(fmt.Sprintf("- The feature plan must end with a documentation feature that emits: %v\n",
			speccompiler.RequiredDocFiles))
	}

	return b.String()
}
