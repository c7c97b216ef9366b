package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/nek1987/auto-agent-harness/internal/apperr"
)

type stubBrowser struct {
	img      []byte
	mimeType string
	err      error
}

func (s *stubBrowser) CaptureURL(ctx context.Context, url string, w, h int) ([]byte, string, error) {
	return s.img, s.mimeType, s.err
}

func sequentialIDs() ReferenceIDer {
	n := 0
	return func() string {
		n++
		return "ref-" + string(rune('a'+n-1))
	}
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode sample png: %v", err)
	}
	return buf.Bytes()
}

func TestIngestImage_AcceptsValidPNG(t *testing.T) {
	ig := New(&stubBrowser{}, sequentialIDs())
	ref, err := ig.IngestImage("sess-1", samplePNG(t), "mock.png")
	if err != nil {
		t.Fatalf("IngestImage failed: %v", err)
	}
	if ref.Type != "image" {
		t.Errorf("type = %q, want image", ref.Type)
	}
	if ref.SessionID != "sess-1" {
		t.Errorf("session = %q, want sess-1", ref.SessionID)
	}
}

func TestIngestImage_RejectsUnsupportedMIMEType(t *testing.T) {
	ig := New(&stubBrowser{}, sequentialIDs())
	_, err := ig.IngestImage("sess-1", []byte("not an image, just text padding to avoid sniffing as anything else"), "file.txt")
	if err == nil {
		t.Fatal("expected an error for a non-image payload")
	}
	if apperr.KindOf(err) != apperr.InvariantViolation {
		t.Errorf("kind = %q, want invariant_violation", apperr.KindOf(err))
	}
}

func TestIngestImage_RejectsOversizedPayload(t *testing.T) {
	ig := New(&stubBrowser{}, sequentialIDs())
	oversized := make([]byte, MaxImageBytes+1)
	copy(oversized, samplePNG(t))
	_, err := ig.IngestImage("sess-1", oversized, "big.png")
	if err == nil {
		t.Fatal("expected an error for an oversized image")
	}
}

func TestIngestImage_RejectsEmptyPayload(t *testing.T) {
	ig := New(&stubBrowser{}, sequentialIDs())
	if _, err := ig.IngestImage("sess-1", nil, "empty.png"); err == nil {
		t.Fatal("expected an error for an empty payload")
	}
}

func TestIngestURL_WrapsCapturedScreenshot(t *testing.T) {
	browser := &stubBrowser{img: []byte("fake-png-bytes"), mimeType: "image/png"}
	ig := New(browser, sequentialIDs())

	ref, err := ig.IngestURL(context.Background(), "sess-1", "https://example.com", 1440, 900)
	if err != nil {
		t.Fatalf("IngestURL failed: %v", err)
	}
	if ref.OriginalURL != "https://example.com" {
		t.Errorf("original_url = %q, want https://example.com", ref.OriginalURL)
	}
	if !bytes.Equal(ref.Payload, browser.img) {
		t.Error("payload should be the captured screenshot bytes")
	}
}

func TestIngestURL_SurfacesCaptureFailureAsRetryable(t *testing.T) {
	browser := &stubBrowser{err: errors.New("navigation timeout")}
	ig := New(browser, sequentialIDs())

	_, err := ig.IngestURL(context.Background(), "sess-1", "https://example.com", 1440, 900)
	if err == nil {
		t.Fatal("expected an error when capture fails")
	}
	if apperr.KindOf(err) != apperr.Internal {
		t.Errorf("kind = %q, want internal (retryable)", apperr.KindOf(err))
	}
}

func TestIngestArchive_BuildsComponentManifest(t *testing.T) {
	payload := buildZip(t, map[string]string{"src/pages/Home.tsx": "export default function Home(){}"})
	ig := New(&stubBrowser{}, sequentialIDs())

	ref, err := ig.IngestArchive("sess-1", payload, "export.zip")
	if err != nil {
		t.Fatalf("IngestArchive failed: %v", err)
	}
	if ref.ComponentManifest == nil || ref.ComponentManifest.Framework != "react" {
		t.Fatalf("expected a react component manifest, got %+v", ref.ComponentManifest)
	}
}

func TestIngestArchive_RejectsOversizedPayload(t *testing.T) {
	ig := New(&stubBrowser{}, sequentialIDs())
	oversized := make([]byte, MaxArchiveBytes+1)
	if _, err := ig.IngestArchive("sess-1", oversized, "big.zip"); err == nil {
		t.Fatal("expected an error for an oversized archive")
	}
}
