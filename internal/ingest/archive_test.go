package ingest

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestExpandArchive_DetectsReactFromTSX(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"src/pages/Home.tsx":         "export default function Home() {}",
		"src/components/Button.tsx":  "export default function Button() {}",
		"src/layouts/MainLayout.tsx": "export default function MainLayout() {}",
	})

	manifest, err := ExpandArchive(payload)
	if err != nil {
		t.Fatalf("ExpandArchive failed: %v", err)
	}
	if manifest.Framework != "react" {
		t.Errorf("framework = %q, want react", manifest.Framework)
	}
	if len(manifest.Files) != 3 {
		t.Fatalf("files = %d, want 3", len(manifest.Files))
	}

	kinds := map[string]string{}
	for _, f := range manifest.Files {
		kinds[f.Path] = f.Kind
	}
	if kinds["src/pages/Home.tsx"] != "page" {
		t.Errorf("Home.tsx kind = %q, want page", kinds["src/pages/Home.tsx"])
	}
	if kinds["src/layouts/MainLayout.tsx"] != "layout" {
		t.Errorf("MainLayout.tsx kind = %q, want layout", kinds["src/layouts/MainLayout.tsx"])
	}
	if kinds["src/components/Button.tsx"] != "component" {
		t.Errorf("Button.tsx kind = %q, want component", kinds["src/components/Button.tsx"])
	}
}

func TestExpandArchive_DetectsHTMLTailwindWhenNoFrameworkSignal(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"index.html":          "<html></html>",
		"tailwind.config.js":  "module.exports = {}",
	})

	manifest, err := ExpandArchive(payload)
	if err != nil {
		t.Fatalf("ExpandArchive failed: %v", err)
	}
	if manifest.Framework != "html-tailwind" {
		t.Errorf("framework = %q, want html-tailwind", manifest.Framework)
	}
}

func TestExpandArchive_DetectsSvelteVueSwiftUIFlutter(t *testing.T) {
	cases := []struct {
		file string
		want string
	}{
		{"src/App.svelte", "svelte"},
		{"src/App.vue", "vue"},
		{"Sources/App/ContentView.swift", "swiftui"},
		{"lib/main.dart", "flutter"},
	}
	for _, tc := range cases {
		payload := buildZip(t, map[string]string{tc.file: "content"})
		manifest, err := ExpandArchive(payload)
		if err != nil {
			t.Fatalf("ExpandArchive(%s) failed: %v", tc.file, err)
		}
		if manifest.Framework != tc.want {
			t.Errorf("%s: framework = %q, want %q", tc.file, manifest.Framework, tc.want)
		}
	}
}

func TestExpandArchive_RejectsEmptyArchive(t *testing.T) {
	payload := buildZip(t, map[string]string{})
	if _, err := ExpandArchive(payload); err == nil {
		t.Fatal("expected an error for an archive with no files")
	}
}

func TestExpandArchive_RejectsNonZipPayload(t *testing.T) {
	if _, err := ExpandArchive([]byte("not a zip file")); err == nil {
		t.Fatal("expected an error for a non-zip payload")
	}
}

func TestApproximateRoute_DerivesFromPagesDirectory(t *testing.T) {
	if got := approximateRoute("src/pages/settings/Profile.tsx"); got != "/settings" {
		t.Errorf("route = %q, want /settings", got)
	}
	if got := approximateRoute("src/pages/Home.tsx"); got != "/" {
		t.Errorf("route = %q, want /", got)
	}
}

func TestApproximateRoute_EmptyForNonPageFiles(t *testing.T) {
	if got := approximateRoute("src/components/Button.tsx"); got != "" {
		t.Errorf("route = %q, want empty", got)
	}
}
