package speccompiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

func TestChunkSpec_SplitsOnHeadings(t *testing.T) {
	text := "# Intro\nsome text\n## Details\nmore text\n"

	chunks := ChunkSpec(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Heading != "Intro" || chunks[1].Heading != "Details" {
		t.Errorf("unexpected headings: %q, %q", chunks[0].Heading, chunks[1].Heading)
	}
	if !strings.Contains(chunks[0].Body, "some text") {
		t.Errorf("expected first chunk body to contain its text, got %q", chunks[0].Body)
	}
}

func TestChunkSpec_SplitsOversizedSectionByLength(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Big\n")
	line := strings.Repeat("x", 100) + "\n"
	for i := 0; i < targetChunkRunes/len(line)+5; i++ {
		b.WriteString(line)
	}

	chunks := ChunkSpec(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected an oversized section to split into multiple chunks, got %d", len(chunks))
	}
}

func TestChunkSpec_EmptyInputProducesNoChunks(t *testing.T) {
	if chunks := ChunkSpec(""); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(chunks))
	}
}

type stubExtractor struct {
	byHeading map[string][]Requirement
	failOn    map[string]bool
}

func (s stubExtractor) Extract(chunk Chunk) ([]Requirement, error) {
	if s.failOn[chunk.Heading] {
		return nil, apperr.New(apperr.ExtractionFailed, fmt.Sprintf("could not extract %q", chunk.Heading))
	}
	return s.byHeading[chunk.Heading], nil
}

func TestMerge_ComputesCoverageAcrossChunks(t *testing.T) {
	text := "# One\nbody one\n# Two\nbody two\n"
	extractor := stubExtractor{
		byHeading: map[string][]Requirement{
			"One": {{Title: "Req A", Description: "does a thing"}},
		},
		failOn: map[string]bool{"Two": true},
	}

	result, err := Merge(text, extractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Coverage != 0.5 {
		t.Errorf("expected coverage 0.5 with one of two chunks failing, got %v", result.Coverage)
	}
	if len(result.Requirements) != 1 {
		t.Fatalf("expected one requirement to survive, got %d", len(result.Requirements))
	}
}

func TestMerge_NoChunksIsExtractionFailed(t *testing.T) {
	_, err := Merge("", stubExtractor{})
	if apperr.KindOf(err) != apperr.ExtractionFailed {
		t.Fatalf("expected ExtractionFailed for empty document, got %v", err)
	}
}

func TestMerge_DedupesNearIdenticalRequirements(t *testing.T) {
	text := "# One\nbody\n# Two\nbody\n"
	extractor := stubExtractor{byHeading: map[string][]Requirement{
		"One": {{Title: "Login form", Description: "Users can log in with email and password."}},
		"Two": {{Title: "login form", Description: "Users can log in with email and password."}},
	}}

	result, err := Merge(text, extractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Requirements) != 1 {
		t.Fatalf("expected near-duplicate requirements to collapse to 1, got %d", len(result.Requirements))
	}
	if result.UnresolvedConflict {
		t.Errorf("expected no conflict for near-duplicate requirements")
	}
}

func TestMerge_GroupsGenuineConflicts(t *testing.T) {
	text := "# One\nbody\n# Two\nbody\n"
	extractor := stubExtractor{byHeading: map[string][]Requirement{
		"One": {{Title: "Login form", Description: "Users log in with email and password."}},
		"Two": {{Title: "login form", Description: "Users log in with username only, no password."}},
	}}

	result, err := Merge(text, extractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.UnresolvedConflict {
		t.Fatalf("expected a conflict for two disagreeing requirements with the same key")
	}
	if len(result.Conflicts) != 1 || len(result.Conflicts[0].Requirements) != 2 {
		t.Fatalf("expected one conflict group with two members, got %+v", result.Conflicts)
	}
}
