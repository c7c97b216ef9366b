package redesign

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nek1987/auto-agent-harness/internal/registry"
)

func extractorBasePrompt(sess *registry.RedesignSession, refs []registry.Reference) string {
	var b strings.Builder
	b.WriteString("You are extracting a design system from the References attached to this ")
	b.WriteString("Redesign session. Study every image, URL, and archive reference below, then call ")
	b.WriteString("write_tokens exactly once with the complete DesignTokens (color, typography, spacing, ")
	b.WriteString("radii, shadows, motion) you observe. Do not touch any project files yet.\n\n")
	fmt.Fprintf(&b, "Style brief: %s\n\n", sess.StyleBrief)
	b.WriteString(referenceSummary(refs))
	return b.String()
}

func plannerBasePrompt(sess *registry.RedesignSession, refs []registry.Reference) string {
	var b strings.Builder
	b.WriteString("You are turning the already-extracted DesignTokens into a phase-ordered ChangePlan. ")
	b.WriteString("Phases apply in this fixed order: globals, config, components, pages. Call write_plan ")
	b.WriteString("exactly once with every Operation grouped under its Phase. Do not touch any project ")
	b.WriteString("files yet.\n\n")
	if sess.ExtractedTokens != nil {
		if raw, err := json.Marshal(sess.ExtractedTokens); err == nil {
			fmt.Fprintf(&b, "ExtractedTokens:\n%s\n\n", raw)
		}
	}
	b.WriteString(referenceSummary(refs))
	return b.String()
}

func implementerBasePrompt(sess *registry.RedesignSession, refs []registry.Reference) string {
	var b strings.Builder
	b.WriteString("You are applying an approved ChangePlan to the workspace, one phase at a time in the ")
	b.WriteString("order globals, config, components, pages. Before writing any file that belongs to a ")
	b.WriteString("phase, call require_phase_approval with that phase; the call will not return until a ")
	b.WriteString("human has approved it, so issue it once per phase and wait.\n\n")
	if sess.ChangePlan != nil {
		if raw, err := json.Marshal(sess.ChangePlan); err == nil {
			fmt.Fprintf(&b, "ChangePlan:\n%s\n", raw)
		}
	}
	b.WriteString(pageScopeSummary(refs))
	return b.String()
}

// pageScopeSummary lists, for the pages phase, which component files are
// in scope for each distinct page an archive reference named (spec.md
// §4.8): a reference's own page plus every framework-wide component, but
// never another page's file.
func pageScopeSummary(refs []registry.Reference) string {
	pages := map[string]bool{}
	for _, r := range refs {
		if r.PageIdentifier != "" {
			pages[r.PageIdentifier] = true
		}
	}
	if len(pages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nDuring the pages phase, each page's candidate files are scoped as follows:\n")
	for page := range pages {
		fmt.Fprintf(&b, "- %s:\n", page)
		for _, entry := range componentsForPage(refs, page) {
			fmt.Fprintf(&b, "    %s (%s)\n", entry.Path, entry.Kind)
		}
	}
	return b.String()
}

func verifierBasePrompt(sess *registry.RedesignSession) string {
	return "You are verifying that every phase of this Redesign session's ChangePlan was applied " +
		"correctly: globals, config, components, and pages. Build the project, exercise the pages that " +
		"changed, and report any regression. Fix anything you find."
}

func referenceSummary(refs []registry.Reference) string {
	if len(refs) == 0 {
		return "No references were attached; work from the style brief alone."
	}
	var b strings.Builder
	b.WriteString("References:\n")
	for _, r := range refs {
		switch r.Type {
		case registry.ReferenceArchive:
			fmt.Fprintf(&b, "- archive %s\n", r.Filename)
			if r.ComponentManifest != nil {
				for _, entry := range r.ComponentManifest.Files {
					fmt.Fprintf(&b, "    %s (%s, route=%s)\n", entry.Path, entry.Kind, entry.Route)
				}
			}
		case registry.ReferenceURL:
			fmt.Fprintf(&b, "- url %s\n", r.OriginalURL)
		default:
			fmt.Fprintf(&b, "- image %s\n", r.Filename)
		}
	}
	return b.String()
}

// componentsForPage scopes an archive reference's manifest entries down
// to the ones relevant to a given page during the pages phase: its own
// page file plus every layout/component entry, but not pages belonging
// to a different page_identifier (spec.md §4.8). References carrying no
// page_identifier are global (component libraries, shared layouts) and
// always included.
func componentsForPage(refs []registry.Reference, pageIdentifier string) []registry.ComponentManifestEntry {
	var out []registry.ComponentManifestEntry
	for _, r := range refs {
		if r.ComponentManifest == nil {
			continue
		}
		if r.PageIdentifier != "" && r.PageIdentifier != pageIdentifier {
			continue
		}
		out = append(out, r.ComponentManifest.Files...)
	}
	return out
}
