// Package registry implements the Registry Store (spec.md §4.1): the
// single-writer, transactional durable catalog of Projects, Features,
// Runs, and RedesignSessions.
//
// Storage is SQLite via modernc.org/sqlite, following the teacher's
// internal/memory/store.go idiom — WAL mode, a hooks indirection layer
// for testability, and an idempotent migrate() — generalized from a
// session/observation schema to the entity model of spec.md §3.
package registry

import "time"

// FeatureCategory is the allowed set of Feature categories.
type FeatureCategory string

const (
	CategoryInfrastructure FeatureCategory = "infrastructure"
	CategoryCore           FeatureCategory = "core"
	CategoryUI             FeatureCategory = "ui"
	CategoryIntegration    FeatureCategory = "integration"
	CategoryTesting        FeatureCategory = "testing"
	CategoryDocumentation  FeatureCategory = "documentation"
)

// ValidCategories is the allow-list enforced by the Spec Compiler.
var ValidCategories = map[FeatureCategory]bool{
	CategoryInfrastructure: true,
	CategoryCore:           true,
	CategoryUI:             true,
	CategoryIntegration:    true,
	CategoryTesting:        true,
	CategoryDocumentation:  true,
}

// FeatureStatus is the Feature lifecycle state (spec.md §3/§4.1).
type FeatureStatus string

const (
	FeaturePending     FeatureStatus = "pending"
	FeatureInProgress  FeatureStatus = "in_progress"
	FeatureNeedsReview FeatureStatus = "needs_review"
	FeatureBlocked     FeatureStatus = "blocked"
	FeatureDone        FeatureStatus = "done"
	FeatureSkipped     FeatureStatus = "skipped"
)

// RunKind enumerates the kinds of agent subprocess runs.
type RunKind string

const (
	RunInitializer RunKind = "initializer"
	RunCoding      RunKind = "coding"
	RunRegression  RunKind = "regression"
	RunRedesign    RunKind = "redesign"
)

// RunStatus is the Run lifecycle state (spec.md §3).
type RunStatus string

const (
	RunStarting   RunStatus = "starting"
	RunRunning    RunStatus = "running"
	RunPaused     RunStatus = "paused"
	RunCancelling RunStatus = "cancelling"
	RunFinished   RunStatus = "finished"
	RunFailed     RunStatus = "failed"
)

// ActiveRunStatuses are the non-terminal Run statuses that count against
// the one-active-run-per-project invariant.
var ActiveRunStatuses = map[RunStatus]bool{
	RunStarting:   true,
	RunRunning:    true,
	RunPaused:     true,
	RunCancelling: true,
}

// ExitReason classifies why a Run terminated.
type ExitReason string

const (
	ExitClean ExitReason = "clean"
	ExitError ExitReason = "error"
	ExitKilled ExitReason = "killed"
	ExitTimeout ExitReason = "timeout"
)

// RedesignStatus is the RedesignSession lifecycle state (spec.md §3/§4.7).
type RedesignStatus string

const (
	RedesignCollecting  RedesignStatus = "collecting"
	RedesignExtracting  RedesignStatus = "extracting"
	RedesignPlanning    RedesignStatus = "planning"
	RedesignApproving   RedesignStatus = "approving"
	RedesignImplementing RedesignStatus = "implementing"
	RedesignVerifying   RedesignStatus = "verifying"
	RedesignDone        RedesignStatus = "done"
	RedesignCancelled   RedesignStatus = "cancelled"
)

// TerminalRedesignStatuses are the statuses at which a session is no
// longer "the" active session for its project.
var TerminalRedesignStatuses = map[RedesignStatus]bool{
	RedesignDone:      true,
	RedesignCancelled: true,
}

// ReferenceType is the kind of a Redesign Reference.
type ReferenceType string

const (
	ReferenceImage   ReferenceType = "image"
	ReferenceURL     ReferenceType = "url"
	ReferenceArchive ReferenceType = "archive"
)

// PhaseKey identifies one of the four ChangePlan phases, in order.
type PhaseKey string

const (
	PhaseGlobals    PhaseKey = "globals"
	PhaseConfig     PhaseKey = "config"
	PhaseComponents PhaseKey = "components"
	PhasePages      PhaseKey = "pages"
)

// PhaseOrder is the fixed approval/implementation order of §4.7.
var PhaseOrder = []PhaseKey{PhaseGlobals, PhaseConfig, PhaseComponents, PhasePages}

// --- Core entities ---

// Project is the top-level container owning Features, Runs,
// SpecArtifacts, and RedesignSessions (spec.md §3).
type Project struct {
	ID            string
	Name          string
	WorkspacePath string
	SpecVersion   int
	AgentSettings AgentSettings
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AgentSettings configures how agents are launched for a project.
type AgentSettings struct {
	ModelID         string
	YoloMode        bool
	RequireTDD      bool
	EnvConfigPolicy bool
	Locked          bool
}

// SpecArtifact is one immutable version of a project's spec text.
type SpecArtifact struct {
	ProjectID     string
	VersionID     int
	SourceText    string
	CreatedAt     time.Time
	DiffFromPrev  string
}

// Feature is one atomic unit of backlog work.
type Feature struct {
	ID             string
	ProjectID      string
	Ordinal        int
	Title          string
	Description    string
	Category       FeatureCategory
	Status         FeatureStatus
	AttemptCount   int
	LastError      string
	DependsOn      []string
	ClaimedByRunID string
	Summary        string
	Artifacts      []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Run is one execution of an agent subprocess against a project.
type Run struct {
	ID         string
	ProjectID  string
	Kind       RunKind
	FeatureID  string // empty for initializer/regression/redesign runs
	PID        int
	Status     RunStatus
	ModelID    string
	StartedAt  time.Time
	FinishedAt *time.Time
	ExitReason ExitReason
}

// RedesignSession drives a project's design system through the
// phase-gated pipeline of spec.md §4.7.
type RedesignSession struct {
	ID                string
	ProjectID         string
	Status            RedesignStatus
	StyleBrief        string
	ExtractedTokens   *DesignTokens
	ChangePlan        *ChangePlan
	FrameworkDetected string
	PhaseApprovals    map[PhaseKey]time.Time
	CreatedAt         time.Time
}

// Reference is a normalized visual/structural input feeding the
// Redesign Engine.
type Reference struct {
	ID              string
	SessionID       string
	Type            ReferenceType
	Payload         []byte
	Filename        string
	OriginalURL     string
	PageIdentifier  string
	ComponentManifest *ComponentManifest
}

// DesignTokens is the extracted, structured style vocabulary.
type DesignTokens struct {
	Color      map[string]string        `json:"color"`
	Typography map[string]TypographyRole `json:"typography"`
	Spacing    []string                 `json:"spacing"`
	Radii      []string                 `json:"radii"`
	Shadows    []string                 `json:"shadows"`
	Motion     Motion                   `json:"motion"`
}

// TypographyRole describes one named typography role.
type TypographyRole struct {
	Family     string `json:"family"`
	Weight     string `json:"weight"`
	Size       string `json:"size"`
	LineHeight string `json:"line_height"`
}

// Motion describes the design system's animation vocabulary.
type Motion struct {
	Duration string `json:"duration"`
	Easing   string `json:"easing"`
}

// ChangePlan is the ordered, phase-scoped set of operations that apply
// DesignTokens to the workspace.
type ChangePlan struct {
	Phases []Phase `json:"phases"`
}

// Phase is one phase of a ChangePlan.
type Phase struct {
	Key        PhaseKey    `json:"key"`
	Operations []Operation `json:"operations"`
}

// OperationKind is the kind of file-level change an Operation performs.
type OperationKind string

const (
	OpCreate  OperationKind = "create"
	OpModify  OperationKind = "modify"
	OpReplace OperationKind = "replace"
)

// Operation is one file-level change within a ChangePlan phase.
type Operation struct {
	TargetPath string        `json:"target_path"`
	Kind       OperationKind `json:"kind"`
	Rationale  string        `json:"rationale"`
	DiffPreview string       `json:"diff_preview"`
}

// ComponentManifest lists the files an archive Reference was expanded
// into, classified by kind and approximate route.
type ComponentManifest struct {
	Framework string              `json:"framework"`
	Files     []ComponentManifestEntry `json:"files"`
}

// ComponentManifestEntry describes one file within a component manifest.
type ComponentManifestEntry struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"` // page | layout | component
	Route string `json:"route,omitempty"`
}
