package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomicCreatesAndReplaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	for _, payload := range []string{`{"v":1}`, `{"v":2}`} {
		if err := WriteAtomic(path, []byte(payload)); err != nil {
			t.Fatalf("write %s: %v", payload, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != `{"v":2}` {
		t.Fatalf("unexpected content %s", raw)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, found %d entries", len(entries))
	}
}

func TestWriteAtomicRemovesTempFileOnFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// A non-empty directory at the target path makes the final rename fail.
	target := filepath.Join(dir, "runs.json")
	if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := WriteAtomic(target, []byte("[]")); err == nil {
		t.Fatalf("expected rename onto a directory to fail")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "runs.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("temp file left behind: %v", names)
	}
}
