package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileMatchesReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	content := "incremental sync test content"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := File(path)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	fromReader, err := Reader(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}

	if fromFile != fromReader {
		t.Errorf("digests differ: %s vs %s", fromFile, fromReader)
	}
	if len(fromFile) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(fromFile))
	}
}

func TestDifferentContentDifferentDigest(t *testing.T) {
	a, err := Reader(strings.NewReader("one"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Reader(strings.NewReader("two"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("distinct content must not collide")
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("expected error for a missing file")
	}
}
