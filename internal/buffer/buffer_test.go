package buffer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mustOpen(t *testing.T, dir string) *Buffer {
	t.Helper()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("Open(%s): %v", dir, err)
	}
	return b
}

func appendN(t *testing.T, b *Buffer, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := b.Append(id, map[string]any{"id": id}); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}
}

func TestAppendDrainOrder(t *testing.T) {
	b := mustOpen(t, t.TempDir())
	defer b.Close()
	appendN(t, b, "a", "b", "c", "a")

	var seen []string
	if err := b.Drain(func(e Entry) error {
		seen = append(seen, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	want := []string{"a", "b", "c", "a"}
	if len(seen) != len(want) {
		t.Fatalf("drained %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("entry %d = %s, want %s (append order must be preserved)", i, seen[i], want[i])
		}
	}
	if got := b.Pending(); got != 0 {
		t.Errorf("Pending() = %d after full drain", got)
	}
}

func TestFailedEntryStaysPending(t *testing.T) {
	b := mustOpen(t, t.TempDir())
	defer b.Close()
	appendN(t, b, "ok1", "bad", "ok2")

	boom := errors.New("store down")
	var applied []string
	if err := b.Drain(func(e Entry) error {
		if e.ID == "bad" {
			return boom
		}
		applied = append(applied, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	// ok2 was applied but the consumed prefix stops before bad; both are
	// replayed on the next pass, which must be harmless for the store.
	if len(applied) != 2 {
		t.Fatalf("applied %v, want ok1 and ok2", applied)
	}
	if got := b.Pending(); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}

	var replayed []string
	if err := b.Drain(func(e Entry) error {
		replayed = append(replayed, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(replayed) != 2 || replayed[0] != "bad" || replayed[1] != "ok2" {
		t.Errorf("replayed %v, want [bad ok2]", replayed)
	}
	if got := b.Pending(); got != 0 {
		t.Errorf("Pending() = %d after recovery drain", got)
	}
}

func TestReopenReplaysPendingEntries(t *testing.T) {
	dir := t.TempDir()

	b := mustOpen(t, dir)
	appendN(t, b, "r1", "r2", "r3")
	// Simulate a crash between append and drain: close without draining.
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b2 := mustOpen(t, dir)
	defer b2.Close()
	if got := b2.Pending(); got != 3 {
		t.Fatalf("Pending() after reopen = %d, want 3", got)
	}

	var seen []string
	if err := b2.Drain(func(e Entry) error {
		seen = append(seen, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(seen) != 3 || seen[0] != "r1" || seen[2] != "r3" {
		t.Errorf("replayed %v, want [r1 r2 r3]", seen)
	}
}

func TestReopenResumesAtConsumedOffset(t *testing.T) {
	dir := t.TempDir()

	b := mustOpen(t, dir)
	appendN(t, b, "done", "pending1", "pending2")
	stop := errors.New("stop here")
	if err := b.Drain(func(e Entry) error {
		if e.ID != "done" {
			return stop
		}
		return nil
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	b.Close()

	b2 := mustOpen(t, dir)
	defer b2.Close()
	var seen []string
	if err := b2.Drain(func(e Entry) error {
		seen = append(seen, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("Drain after reopen: %v", err)
	}
	if len(seen) != 2 || seen[0] != "pending1" || seen[1] != "pending2" {
		t.Errorf("replayed %v, want [pending1 pending2]", seen)
	}
}

func TestTornTailLineDiscarded(t *testing.T) {
	dir := t.TempDir()

	b := mustOpen(t, dir)
	appendN(t, b, "whole1", "whole2")
	b.Close()

	// Simulate an append interrupted mid-write.
	f, err := os.OpenFile(filepath.Join(dir, logName), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString(`{"seq":3,"id":"torn","pay`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	f.Close()

	b2 := mustOpen(t, dir)
	defer b2.Close()
	if got := b2.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2 (torn tail dropped)", got)
	}
	var seen []string
	if err := b2.Drain(func(e Entry) error {
		seen = append(seen, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(seen) != 2 || seen[0] != "whole1" || seen[1] != "whole2" {
		t.Errorf("replayed %v, want [whole1 whole2]", seen)
	}
}

func TestCompactionResetsLog(t *testing.T) {
	dir := t.TempDir()
	b := mustOpen(t, dir)
	defer b.Close()

	appendN(t, b, "x1", "x2")
	if err := b.Drain(func(Entry) error { return nil }); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, logName))
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("log size = %d after compaction, want 0", info.Size())
	}

	// The buffer stays usable after compaction.
	appendN(t, b, "x3")
	var seen []string
	if err := b.Drain(func(e Entry) error {
		seen = append(seen, e.ID)
		return nil
	}); err != nil {
		t.Fatalf("Drain after compaction: %v", err)
	}
	if len(seen) != 1 || seen[0] != "x3" {
		t.Errorf("drained %v, want [x3]", seen)
	}
}

func TestPayloadSurvivesRoundTrip(t *testing.T) {
	b := mustOpen(t, t.TempDir())
	defer b.Close()

	payload := map[string]any{
		"id":     "p1",
		"nested": map[string]any{"k": "v"},
		"n":      float64(7),
	}
	if err := b.Append("p1", payload); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := b.Drain(func(e Entry) error {
		if e.ID != "p1" {
			t.Errorf("ID = %s", e.ID)
		}
		if e.Payload["n"] != float64(7) {
			t.Errorf("n = %v", e.Payload["n"])
		}
		nested, ok := e.Payload["nested"].(map[string]any)
		if !ok || nested["k"] != "v" {
			t.Errorf("nested = %v", e.Payload["nested"])
		}
		if e.EnqueuedAt.IsZero() {
			t.Error("EnqueuedAt not set")
		}
		return nil
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
