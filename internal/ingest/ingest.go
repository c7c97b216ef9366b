// Package ingest implements the Reference Ingest of spec.md §4.8: the
// image/url/archive branches that normalize arbitrary visual or
// structural input into a registry.Reference the Redesign Engine can
// extract DesignTokens and a ComponentManifest from.
package ingest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
	"github.com/nek1987/auto-agent-harness/internal/registry"
)

const (
	// MaxImageBytes is the size ceiling for a directly-uploaded image reference.
	MaxImageBytes = 10 << 20
	// MaxArchiveBytes is the size ceiling for an uploaded .zip reference.
	MaxArchiveBytes = 50 << 20
)

var allowedImageMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// ReferenceIDer generates the ids new References are stored under; the
// Redesign Engine supplies this (normally google/uuid) so ingest stays
// free of an ambient id-generation dependency.
type ReferenceIDer func() string

// Ingester builds registry.Reference values for the three input kinds.
// Construction validates image/archive branches directly; URL capture
// is delegated to a Browser collaborator so this package never imports
// go-rod itself.
type Ingester struct {
	browser Browser
	newID   ReferenceIDer
}

// Browser is the headless-capture collaborator behind the URL branch.
// internal/mcptools.URLCapturer has the identical method, so a
// *RodBrowser built here satisfies both without an explicit adapter.
type Browser interface {
	CaptureURL(ctx context.Context, url string, viewportWidth, viewportHeight int) ([]byte, string, error)
}

// New creates an Ingester.
func New(browser Browser, newID ReferenceIDer) *Ingester {
	return &Ingester{browser: browser, newID: newID}
}

// IngestImage validates and wraps a directly-uploaded image as a Reference.
func (ig *Ingester) IngestImage(sessionID string, payload []byte, filename string) (*registry.Reference, error) {
	if len(payload) == 0 {
		return nil, apperr.New(apperr.InvariantViolation, "image payload is empty")
	}
	if len(payload) > MaxImageBytes {
		return nil, apperr.New(apperr.InvariantViolation, fmt.Sprintf("image payload %d bytes exceeds the %d byte limit", len(payload), MaxImageBytes))
	}
	mimeType := http.DetectContentType(payload)
	if !allowedImageMIME[mimeType] {
		return nil, apperr.New(apperr.InvariantViolation, fmt.Sprintf("unsupported image MIME type %q", mimeType))
	}
	return &registry.Reference{
		ID:        ig.newID(),
		SessionID: sessionID,
		Type:      registry.ReferenceImage,
		Payload:   payload,
		Filename:  filename,
	}, nil
}

// IngestURL captures a screenshot of url and wraps it as a Reference.
// Capture failures are surfaced as retryable apperr.Internal errors per
// spec.md §4.8 ("on failure, surface a retryable error").
func (ig *Ingester) IngestURL(ctx context.Context, sessionID, url string, viewportWidth, viewportHeight int) (*registry.Reference, error) {
	img, _, err := ig.browser.CaptureURL(ctx, url, viewportWidth, viewportHeight)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, fmt.Sprintf("capturing %q", url), err)
	}
	return &registry.Reference{
		ID:          ig.newID(),
		SessionID:   sessionID,
		Type:        registry.ReferenceURL,
		Payload:     img,
		OriginalURL: url,
	}, nil
}

// IngestArchive expands a .zip payload into a ComponentManifest and
// wraps both as a Reference.
func (ig *Ingester) IngestArchive(sessionID string, payload []byte, filename string) (*registry.Reference, error) {
	if len(payload) == 0 {
		return nil, apperr.New(apperr.InvariantViolation, "archive payload is empty")
	}
	if len(payload) > MaxArchiveBytes {
		return nil, apperr.New(apperr.InvariantViolation, fmt.Sprintf("archive payload %d bytes exceeds the %d byte limit", len(payload), MaxArchiveBytes))
	}
	manifest, err := ExpandArchive(payload)
	if err != nil {
		return nil, err
	}
	return &registry.Reference{
		ID:                ig.newID(),
		SessionID:         sessionID,
		Type:              registry.ReferenceArchive,
		Payload:           payload,
		Filename:          filename,
		ComponentManifest: manifest,
	}, nil
}
