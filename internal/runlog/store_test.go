package runlog

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir(), TailBufferSize: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppend_IgnoresDuplicateSeq(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Append("run-1", 1, StreamStdout, "building...")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := s.Append("run-1", 1, StreamStdout, "different text, same seq")
	if err != nil {
		t.Fatalf("Append (dup): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected duplicate seq to return existing row, got different ids %d != %d", first.ID, second.ID)
	}
	if second.Content != "building..." {
		t.Fatalf("expected original content preserved, got %q", second.Content)
	}
}

func TestTail_ReturnsChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	for i := int64(1); i <= 5; i++ {
		if _, err := s.Append("run-2", i, StreamStdout, "line"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := s.Tail("run-2", 3)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []int64{3, 4, 5}
	for i, e := range entries {
		if e.Seq != want[i] {
			t.Errorf("entry %d: expected seq %d, got %d", i, want[i], e.Seq)
		}
	}
}

func TestSince_ReturnsOnlyNewerEntries(t *testing.T) {
	s := newTestStore(t)
	for i := int64(1); i <= 5; i++ {
		if _, err := s.Append("run-3", i, StreamStdout, "line"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := s.Since("run-3", 3)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after seq 3, got %d", len(entries))
	}
	if entries[0].Seq != 4 || entries[1].Seq != 5 {
		t.Fatalf("unexpected seqs: %+v", entries)
	}
}

func TestSearch_FindsByContent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append("run-4", 1, StreamStdout, "npm install finished"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append("run-4", 2, StreamStderr, "panic: runtime error"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	results, err := s.Search("run-4", "panic", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Stream != StreamStderr {
		t.Errorf("expected stderr match, got %s", results[0].Stream)
	}
}

func TestSearch_EmptyQueryFallsBackToTail(t *testing.T) {
	s := newTestStore(t)
	for i := int64(1); i <= 3; i++ {
		if _, err := s.Append("run-5", i, StreamStdout, "line"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	results, err := s.Search("run-5", "   ", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected fallback to all 3 entries, got %d", len(results))
	}
}

func TestAppendEvent_PrunesBeyondTailBufferSize(t *testing.T) {
	s := newTestStore(t) // TailBufferSize: 3

	for i := int64(1); i <= 5; i++ {
		if err := s.AppendEvent("run.abc.log", i, []byte("payload")); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.TailEvents("run.abc.log")
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected pruning to 3 events, got %d", len(events))
	}
	want := []int64{3, 4, 5}
	for i, e := range events {
		if e.Seq != want[i] {
			t.Errorf("event %d: expected seq %d, got %d", i, want[i], e.Seq)
		}
	}
}

func TestAppendEvent_TopicsAreIndependent(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendEvent("topic.a", 1, []byte("a1")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent("topic.b", 1, []byte("b1")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	aEvents, err := s.TailEvents("topic.a")
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	bEvents, err := s.TailEvents("topic.b")
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	if len(aEvents) != 1 || len(bEvents) != 1 {
		t.Fatalf("expected 1 event per topic, got a=%d b=%d", len(aEvents), len(bEvents))
	}
}
