package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"telegate/internal/ledger"
	"telegate/internal/logging"
	"telegate/internal/storage"
	"telegate/internal/testsupport"
)

func stageFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "upload.part")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	return path
}

func TestRecordAndList(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	first := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "[Main FAN]_CH0_1.bin", "/tmp/a.part")
	second := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "[Main FAN]_CH0_2.bin", "/tmp/b.part")

	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("unexpected ids %d, %d", first.ID, second.ID)
	}
	if first.Status != ledger.StatusOpen || first.ErrorMessage != "disk full" || first.SessionID != "test-session" {
		t.Fatalf("unexpected recorded failure: %#v", first)
	}
	if !first.ReceivedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)) {
		t.Fatalf("received_at = %v", first.ReceivedAt)
	}

	open, err := store.List(ctx, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 2 || open[0].ID != second.ID {
		t.Fatalf("expected newest first, got %#v", open)
	}

	count, err := store.OpenCount(ctx)
	if err != nil || count != 2 {
		t.Fatalf("OpenCount = %d, %v", count, err)
	}
}

func TestResolveClosesFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	failure := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "x.bin", "/tmp/x.part")
	resolved, err := store.Resolve(ctx, failure.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != ledger.StatusResolved {
		t.Fatalf("status = %s", resolved.Status)
	}
	if _, err := store.Resolve(ctx, failure.ID); !errors.Is(err, ledger.ErrNotOpen) {
		t.Fatalf("second Resolve err = %v, want ErrNotOpen", err)
	}
	if _, err := store.Resolve(ctx, 9999); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("Resolve missing err = %v, want ErrNotFound", err)
	}

	open, err := store.List(ctx, false)
	if err != nil || len(open) != 0 {
		t.Fatalf("open list = %v, %v", open, err)
	}
	all, err := store.List(ctx, true)
	if err != nil || len(all) != 1 {
		t.Fatalf("full list = %v, %v", all, err)
	}
}

func TestRetryRoutesIntoReceivedDate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	temp := stageFile(t, t.TempDir(), "late bytes")
	failure := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "/[Main FAN]_CH0_9.bin", temp)

	router := storage.NewRouter(storage.PolicyOverwrite, logging.NewNop())
	retried, err := store.Retry(ctx, failure.ID, router)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}

	want := filepath.Join(cfg.Paths.RootDir, "Main FAN", "20240301", "CH0", "[Main FAN]_CH0_9.bin")
	if retried.Status != ledger.StatusRetried || retried.DestinationPath != want || retried.Attempts != 1 {
		t.Fatalf("unexpected retried failure: %#v", retried)
	}
	if data, err := os.ReadFile(want); err != nil || string(data) != "late bytes" {
		t.Fatalf("destination content %q, %v", data, err)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("temp file should be gone, stat err=%v", err)
	}
}

func TestRetryFailureKeepsRowOpen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	failure := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "gone.bin", filepath.Join(t.TempDir(), "missing.part"))

	router := storage.NewRouter(storage.PolicyOverwrite, logging.NewNop())
	if _, err := store.Retry(ctx, failure.ID, router); !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("Retry err = %v, want storage error", err)
	}

	after, err := store.Get(ctx, failure.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != ledger.StatusOpen || after.Attempts != 1 || after.ErrorMessage == "disk full" {
		t.Fatalf("unexpected failure after retry: %#v", after)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "a.bin", "/tmp/a.part")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenLedger(t, cfg)
	count, err := reopened.OpenCount(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("OpenCount after reopen = %d, %v", count, err)
	}
	if reopened.Path() != cfg.LedgerPath() {
		t.Fatalf("path = %q", reopened.Path())
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	got, err := store.Get(context.Background(), 42)
	if err != nil || got != nil {
		t.Fatalf("Get missing = %#v, %v", got, err)
	}
}
