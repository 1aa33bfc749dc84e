package applog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	got := format(ts, "ERROR", "store.save", errors.New("disk full"), []any{"sessions", 3, "title", "New Session"})
	want := `2026-01-02T03:04:05.006Z ERROR store.save err="disk full" sessions=3 title="New Session"` + "\n"
	if got != want {
		t.Errorf("format() =\n%q\nwant\n%q", got, want)
	}
}

func TestQuoteTruncates(t *testing.T) {
	long := strings.Repeat("a", maxValueLen+10)
	got := quote(long)
	if !strings.HasSuffix(got, truncSuffix) {
		t.Errorf("expected truncation suffix, got %q", got)
	}
	if len([]rune(got)) != maxValueLen+1 {
		t.Errorf("got %d runes, want %d", len([]rune(got)), maxValueLen+1)
	}
}

func TestInitWritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, make([]byte, maxFileSize+1), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(Close)

	Info("panel.start", "sessions", 1)

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "INFO panel.start sessions=1") {
		t.Errorf("log missing event, got %q", data)
	}
	if Path() != path {
		t.Errorf("Path() = %q, want %q", Path(), path)
	}
}
