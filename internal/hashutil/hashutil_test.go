package hashutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestClassifyUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "log.jsonl", `{"a":1}`+"\n")

	hash, err := PartialHash(path, int64(len(`{"a":1}`+"\n")))
	if err != nil {
		t.Fatalf("partial hash: %v", err)
	}

	class, err := Classify(path, PriorState{
		LastOffset:      int64(len(`{"a":1}` + "\n")),
		LastSize:        int64(len(`{"a":1}` + "\n")),
		LastPartialHash: hash,
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if class != Unchanged {
		t.Fatalf("got %s, want UNCHANGED", class)
	}
}

func TestClassifyAppend(t *testing.T) {
	dir := t.TempDir()
	first := `{"a":1}` + "\n"
	path := writeFile(t, dir, "log.jsonl", first)

	hash, err := PartialHash(path, int64(len(first)))
	if err != nil {
		t.Fatalf("partial hash: %v", err)
	}
	prior := PriorState{LastOffset: int64(len(first)), LastSize: int64(len(first)), LastPartialHash: hash}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"a":2}` + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	class, err := Classify(path, prior)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if class != Append {
		t.Fatalf("got %s, want APPEND", class)
	}
}

func TestClassifyRewriteSameSize(t *testing.T) {
	dir := t.TempDir()
	original := `{"a":1}` + "\n"
	path := writeFile(t, dir, "log.jsonl", original)

	hash, err := PartialHash(path, int64(len(original)))
	if err != nil {
		t.Fatalf("partial hash: %v", err)
	}
	prior := PriorState{LastOffset: int64(len(original)), LastSize: int64(len(original)), LastPartialHash: hash}

	rewritten := `{"a":9}` + "\n"
	if len(rewritten) != len(original) {
		t.Fatalf("test fixture sizes must match")
	}
	writeFile(t, dir, "log.jsonl", rewritten)

	class, err := Classify(path, prior)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if class != Rewrite {
		t.Fatalf("got %s, want REWRITE", class)
	}
}

func TestClassifyTruncateMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.jsonl")

	class, err := Classify(path, PriorState{LastOffset: 10, LastSize: 10, LastPartialHash: "x"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if class != Truncate {
		t.Fatalf("got %s, want TRUNCATE", class)
	}
}

func TestClassifyTruncateShrunk(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "log.jsonl", `{"a":1}`+"\n")

	class, err := Classify(path, PriorState{LastOffset: 100, LastSize: 100, LastPartialHash: "x"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if class != Truncate {
		t.Fatalf("got %s, want TRUNCATE", class)
	}
}

func TestPartialHashInvalidOffset(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "log.jsonl", "short")

	if _, err := PartialHash(path, -1); err == nil {
		t.Fatal("expected error for negative offset")
	}
	if _, err := PartialHash(path, 1000); err == nil {
		t.Fatal("expected error for offset beyond file size")
	}
}
