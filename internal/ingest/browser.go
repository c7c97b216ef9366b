package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

// RodBrowser is the go-rod-backed Browser collaborator used by both the
// URL-capture Ingester branch and the render_component MCP tool. A
// single headless Chrome instance is launched lazily and reused across
// captures, matching the teacher's SessionManager.ensureStarted idiom.
type RodBrowser struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodBrowser creates a RodBrowser. The underlying Chrome process is
// not launched until the first capture.
func NewRodBrowser() *RodBrowser {
	return &RodBrowser{}
}

func (b *RodBrowser) ensureStarted() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "launching headless chrome", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "connecting to chrome", err)
	}
	b.browser = browser
	return browser, nil
}

// CaptureURL renders url at the given viewport and returns a PNG screenshot.
func (b *RodBrowser) CaptureURL(ctx context.Context, url string, viewportWidth, viewportHeight int) ([]byte, string, error) {
	browser, err := b.ensureStarted()
	if err != nil {
		return nil, "", err
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, fmt.Sprintf("opening page for %q", url), err)
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  viewportWidth,
		Height: viewportHeight,
	}); err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, "setting viewport", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, fmt.Sprintf("waiting for %q to load", url), err)
	}

	img, err := page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, fmt.Sprintf("screenshotting %q", url), err)
	}
	return img, "image/png", nil
}

// RenderComponent mounts a previously-expanded archive's dev server at
// the caller-supplied origin and screenshots the element matching
// selector. The archive is expected to already be running behind
// devServerURL (started by the Redesign Engine when the archive
// Reference was ingested); this method only drives the browser.
func (b *RodBrowser) RenderComponent(ctx context.Context, devServerURL, selector string) ([]byte, string, error) {
	browser, err := b.ensureStarted()
	if err != nil {
		return nil, "", err
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: devServerURL})
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, fmt.Sprintf("opening dev server %q", devServerURL), err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, fmt.Sprintf("waiting for %q to load", devServerURL), err)
	}
	el, err := page.Context(ctx).Element(selector)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.NotFound, fmt.Sprintf("selector %q not found", selector), err)
	}
	img, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Internal, fmt.Sprintf("screenshotting %q", selector), err)
	}
	return img, "image/png", nil
}

// Close shuts down the underlying Chrome process, if started.
func (b *RodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
