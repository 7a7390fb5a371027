package attach

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "telepost/pkg/logx"
)

func TestSaveAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Dir: t.TempDir()}, logx.Nop())

	handle, err := s.Save("12:34", strings.NewReader("payload"), "pic.jpg")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(handle)
	if err != nil {
		t.Fatalf("reading handle: %v", err)
	}
	if string(b) != "payload" {
		t.Fatalf("stored %q, want payload", b)
	}

	if err := s.Remove(handle); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(handle); !os.IsNotExist(err) {
		t.Fatal("file still present after Remove")
	}
	// Removing again must stay silent.
	if err := s.Remove(handle); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if err := s.Remove(""); err != nil {
		t.Fatalf("Remove of empty handle: %v", err)
	}
}

func TestSaveSanitizesNames(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(Config{Dir: dir}, logx.Nop())

	handle, err := s.Save("1:2", strings.NewReader("x"), "../../etc/passwd")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(handle) != dir {
		t.Fatalf("handle %q escaped the store directory", handle)
	}
}

func TestSweepOlderThan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(Config{Dir: dir}, logx.Nop())

	oldFile := filepath.Join(dir, "old")
	if err := os.WriteFile(oldFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldFile, stale, stale); err != nil {
		t.Fatal(err)
	}
	newFile := filepath.Join(dir, "new")
	if err := os.WriteFile(newFile, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := s.SweepOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("SweepOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d files, want 1", removed)
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Fatal("recent file must survive the sweep")
	}
}

func TestSweepMissingDir(t *testing.T) {
	t.Parallel()
	s := New(Config{Dir: filepath.Join(t.TempDir(), "nope")}, logx.Nop())
	removed, err := s.SweepOlderThan(time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("sweep of missing dir = (%d, %v), want (0, nil)", removed, err)
	}
}
