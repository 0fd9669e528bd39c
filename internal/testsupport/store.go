package testsupport

import (
	"context"
	"testing"
	"time"

	"telegate/internal/config"
	"telegate/internal/events"
	"telegate/internal/ledger"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecordFailure writes a failed upload whose bytes sit at tempPath.
func RecordFailure(t testing.TB, store *ledger.Store, root, filename, tempPath string) *ledger.Failure {
	t.Helper()

	failure, err := store.Record(context.Background(), events.IngestedFile{
		SessionID:        "test-session",
		OriginalFilename: filename,
		Device:           "Main FAN",
		Channel:          "CH0",
		ReceivedAt:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local),
		SourcePath:       tempPath,
		Outcome:          events.Failed,
		Err:              errTest,
	}, root)
	if err != nil {
		t.Fatalf("store.Record: %v", err)
	}
	return failure
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("disk full")
