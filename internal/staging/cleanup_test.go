package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"telegate/internal/logging"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	result := CleanStale(context.Background(), []string{"", "   ", "/nonexistent/path/12345"}, time.Hour, nil, logging.NewNop())
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestCleanStaleRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.part")
	recent := filepath.Join(dir, "recent.part")
	writeAged(t, old, 2*time.Hour)
	writeAged(t, recent, time.Minute)

	result := CleanStale(context.Background(), []string{dir}, time.Hour, nil, logging.NewNop())

	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if result.Kept != 1 {
		t.Fatalf("expected 1 kept, got %d", result.Kept)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("old file should have been removed")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatal("recent file should still exist")
	}
}

func TestCleanStaleKeepsReferencedFiles(t *testing.T) {
	dir := t.TempDir()
	referenced := filepath.Join(dir, "failed.part")
	writeAged(t, referenced, 72*time.Hour)

	keep := map[string]struct{}{referenced: {}}
	result := CleanStale(context.Background(), []string{dir}, time.Hour, keep, logging.NewNop())

	if len(result.Removed) != 0 {
		t.Fatalf("referenced file removed: %v", result.Removed)
	}
	if _, err := os.Stat(referenced); err != nil {
		t.Fatalf("referenced file missing: %v", err)
	}
}

func TestCleanStaleIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(sub, stamp, stamp); err != nil {
		t.Fatal(err)
	}

	result := CleanStale(context.Background(), []string{dir}, time.Hour, nil, nil)
	if len(result.Removed) != 0 {
		t.Fatalf("directories must be left alone: %v", result.Removed)
	}
}

func TestCleanStaleStopsOnCanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, filepath.Join(dir, "a.part"), 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := CleanStale(ctx, []string{dir}, time.Hour, nil, nil)
	if len(result.Removed) != 0 {
		t.Fatalf("expected no work after cancel, got %v", result.Removed)
	}
}
