package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLookupMissingPath(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := Lookup(filepath.Join(dir, "nope.log"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing file")
	}

	// A missing parent directory is also absence, not failure.
	_, ok, err = Lookup(filepath.Join(dir, "missing-dir", "app.log"))
	if err != nil || ok {
		t.Errorf("expected absent for missing parent, got ok=%v err=%v", ok, err)
	}
}

func TestLookupDirectoryIsAnError(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := Lookup(dir)
	if !errors.Is(err, ErrDirectory) {
		t.Errorf("expected ErrDirectory, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for a directory")
	}
}

func TestLookupReportsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	info, ok, err := Lookup(path)
	if err != nil || !ok {
		t.Fatalf("expected file present, got ok=%v err=%v", ok, err)
	}
	if info.Size != 6 {
		t.Errorf("expected size 6, got %d", info.Size)
	}
	if info.ID.IsZero() {
		t.Error("expected non-zero identity")
	}
}

func TestIdentityFollowsFileNotPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}
	before, _, err := Lookup(path)
	if err != nil {
		t.Fatal(err)
	}

	rotated := filepath.Join(dir, "app.log.1")
	if err := os.Rename(path, rotated); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("new\n"), 0644); err != nil {
		t.Fatal(err)
	}

	moved, _, err := Lookup(rotated)
	if err != nil {
		t.Fatal(err)
	}
	if moved.ID != before.ID {
		t.Errorf("expected renamed file to keep identity %s, got %s", before.ID, moved.ID)
	}

	fresh, _, err := Lookup(path)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == before.ID {
		t.Errorf("expected new file at same path to have a different identity, both %s", fresh.ID)
	}
}

func TestOfMatchesLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	byPath, _, err := Lookup(path)
	if err != nil {
		t.Fatal(err)
	}
	byHandle, err := Of(f)
	if err != nil {
		t.Fatal(err)
	}
	if byPath.ID != byHandle.ID {
		t.Errorf("expected handle identity %s to equal path identity %s", byHandle.ID, byPath.ID)
	}
	if byHandle.Size != 3 {
		t.Errorf("expected size 3, got %d", byHandle.Size)
	}
}
