package speccompiler

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// targetChunkRunes approximates the "2-4k token window" of spec.md §4.2
// in runes (roughly 4 runes/token for English prose).
const targetChunkRunes = 12000

// Chunk is one heading/list-delimited slice of a spec document.
type Chunk struct {
	Heading string
	Body    string
}

// ChunkSpec splits specText by markdown-style headings (`# `, `## `,
// ...) into windows of roughly targetChunkRunes, never splitting a
// heading's content across chunks unless the section itself exceeds the
// window.
func ChunkSpec(specText string) []Chunk {
	lines := strings.Split(specText, "\n")

	var chunks []Chunk
	var heading string
	var body strings.Builder

	flush := func() {
		trimmedBody := strings.TrimSpace(body.String())
		if trimmedBody == "" && heading == "" {
			return
		}
		chunks = append(chunks, Chunk{Heading: heading, Body: trimmedBody})
		body.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			continue
		}
		if body.Len() > 0 && body.Len()+len(line) > targetChunkRunes {
			flush()
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return chunks
}

// Priority is the normalized priority of a Requirement.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Requirement is one normalized requirement extracted from a spec chunk
// (spec.md §4.2 "normalized requirements per chunk").
type Requirement struct {
	ReqID         string   `json:"req_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Acceptance    []string `json:"acceptance"`
	Constraints   []string `json:"constraints"`
	Priority      Priority `json:"priority"`
	Tags          []string `json:"tags"`
	SourceAnchor  string   `json:"source_anchor"`
	normalizedKey string
}

// ExtractRequirements is the per-chunk extraction step. Like Planner,
// real extraction is an LLM call; this signature lets an extractor be
// injected and tested independently of any model.
type Extractor interface {
	Extract(chunk Chunk) ([]Requirement, error)
}

// MergeResult is the output of merging a new spec document against the
// requirements extracted from the project's current active spec.
type MergeResult struct {
	Requirements      []Requirement
	Coverage          float64 // fraction in [0,1] of new-document chunks successfully extracted
	UnresolvedConflict bool
	Conflicts         []ConflictGroup
}

// ConflictGroup is a set of requirements whose normalized keys collide
// but whose content materially disagrees — the merge cannot silently
// pick one.
type ConflictGroup struct {
	Key          string
	Requirements []Requirement
}

// Merge extracts requirements from every chunk of newSpecText via
// extractor, deduplicates near-identical requirements, and groups true
// conflicts. Per-chunk extraction failures are tolerated (coverage drops
// below 1.0 rather than aborting) so the caller can decide whether to
// retry just the failed chunks.
func Merge(newSpecText string, extractor Extractor) (MergeResult, error) {
	chunks := ChunkSpec(newSpecText)
	if len(chunks) == 0 {
		return MergeResult{}, apperr.New(apperr.ExtractionFailed, "spec document produced no chunks")
	}

	var all []Requirement
	succeeded := 0
	for _, c := range chunks {
		reqs, err := extractor.Extract(c)
		if err != nil {
			continue // ExtractionFailed is per-chunk retryable; counted against coverage below
		}
		succeeded++
		for i := range reqs {
			reqs[i].normalizedKey = normalizeKey(reqs[i].Title)
		}
		all = append(all, reqs...)
	}

	deduped, conflicts := dedupeAndGroupConflicts(all)

	return MergeResult{
		Requirements:       deduped,
		Coverage:           float64(succeeded) / float64(len(chunks)),
		UnresolvedConflict: len(conflicts) > 0,
		Conflicts:          conflicts,
	}, nil
}

// dedupeAndGroupConflicts collapses requirements whose normalized key
// matches and whose description is near-identical, and otherwise groups
// same-key-but-differing requirements as a ConflictGroup the caller must
// resolve before apply (spec.md §4.2 "blocks apply").
func dedupeAndGroupConflicts(reqs []Requirement) ([]Requirement, []ConflictGroup) {
	byKey := make(map[string][]Requirement)
	var order []string
	for _, r := range reqs {
		if _, ok := byKey[r.normalizedKey]; !ok {
			order = append(order, r.normalizedKey)
		}
		byKey[r.normalizedKey] = append(byKey[r.normalizedKey], r)
	}

	var deduped []Requirement
	var conflicts []ConflictGroup
	for _, key := range order {
		group := byKey[key]
		if len(group) == 1 {
			deduped = append(deduped, group[0])
			continue
		}
		if allNearDuplicate(group) {
			deduped = append(deduped, group[0])
			continue
		}
		conflicts = append(conflicts, ConflictGroup{Key: key, Requirements: group})
	}
	return deduped, conflicts
}

func allNearDuplicate(group []Requirement) bool {
	base := contentHash(group[0])
	for _, r := range group[1:] {
		if contentHash(r) != base {
			return false
		}
	}
	return true
}

func contentHash(r Requirement) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(r.Description))))
	return hex.EncodeToString(h[:])
}

func normalizeKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
