package ingest

import (
	"archive/zip"
	"bytes"
	"path"
	"strings"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

// componentKind classifies a path by directory/name convention.
func componentKind(p string) string {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	switch {
	case strings.Contains(lower, "/pages/") || strings.Contains(lower, "/routes/") || strings.Contains(lower, "/views/"):
		return "page"
	case strings.Contains(lower, "/layouts/") || base == "layout.tsx" || base == "layout.jsx" || base == "_layout.tsx":
		return "layout"
	default:
		return "component"
	}
}

// approximateRoute derives a route guess from a page file's path,
// matching the directory-as-route convention common to React/Vue/
// Svelte/Next-style file routers.
func approximateRoute(p string) string {
	segments := strings.Split(path.Dir(p), "/")
	for i, seg := range segments {
		if seg == "pages" || seg == "routes" {
			rest := strings.Join(segments[i+1:], "/")
			if rest == "" {
				return "/"
			}
			return "/" + rest
		}
	}
	return ""
}

// ExpandArchive unzips payload in memory and builds a ComponentManifest
// from its contents, detecting the UI framework by file-extension
// heuristics (spec.md §4.8: "React/Vue/Svelte/SwiftUI/Flutter/
// HTML+Tailwind").
func ExpandArchive(payload []byte) (*registry.ComponentManifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, apperr.Wrap(apperr.InvariantViolation, "archive is not a valid zip", err)
	}

	manifest := &registry.ComponentManifest{}
	var sawTailwindConfig, sawHTML bool

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		manifest.Files = append(manifest.Files, registry.ComponentManifestEntry{
			Path:  name,
			Kind:  componentKind(name),
			Route: approximateRoute(name),
		})

		lower := strings.ToLower(name)
		switch {
		case strings.HasSuffix(lower, "tailwind.config.js"), strings.HasSuffix(lower, "tailwind.config.ts"):
			sawTailwindConfig = true
		case strings.HasSuffix(lower, ".html"):
			sawHTML = true
		}
		if fw := frameworkFromSuffix(lower); fw != "" && manifest.Framework == "" {
			manifest.Framework = fw
		}
	}

	if manifest.Framework == "" {
		if sawTailwindConfig || sawHTML {
			manifest.Framework = "html-tailwind"
		} else {
			manifest.Framework = "unknown"
		}
	}
	if len(manifest.Files) == 0 {
		return nil, apperr.New(apperr.InvariantViolation, "archive contains no files")
	}
	return manifest, nil
}

func frameworkFromSuffix(lowerName string) string {
	switch {
	case strings.HasSuffix(lowerName, ".tsx"), strings.HasSuffix(lowerName, ".jsx"):
		return "react"
	case strings.HasSuffix(lowerName, ".vue"):
		return "vue"
	case strings.HasSuffix(lowerName, ".svelte"):
		return "svelte"
	case strings.HasSuffix(lowerName, ".swift"):
		return "swiftui"
	case strings.HasSuffix(lowerName, ".dart"):
		return "flutter"
	default:
		return ""
	}
}
