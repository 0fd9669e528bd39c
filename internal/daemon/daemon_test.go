package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"telegate/internal/config"
	"telegate/internal/daemon"
	"telegate/internal/ftpd"
	"telegate/internal/ledger"
	"telegate/internal/monitor"
	"telegate/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx := t.Context()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Server != ftpd.StateStopped {
		t.Fatalf("server should stay stopped without auto_start, got %s", status.Server)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected api server to be listening")
	}

	if err := d.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	d.Stop()

	if err := d.Start(ctx); !errors.Is(err, daemon.ErrFinished) {
		t.Fatalf("expected ErrFinished after stop, got %v", err)
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	if err := first.Start(t.Context()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	secondCfg := *cfg
	secondCfg.Paths.APIBind = ""
	second := newDaemon(t, &secondCfg)
	if err := second.Start(t.Context()); !errors.Is(err, daemon.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestDaemonServerControlRequiresRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	if err := d.StartServer(t.Context()); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := d.StopServer(t.Context()); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestDaemonServerStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFTPPort(testsupport.FreePort(t)))
	d := newDaemon(t, cfg)
	ctx := t.Context()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := d.StartServer(ctx); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	if got := d.Status(ctx).Server; got != ftpd.StateRunning {
		t.Fatalf("expected running server, got %s", got)
	}
	waitFor(t, "monitor to show running", func() bool {
		return d.Status(ctx).Monitor.Server == monitor.StatusRunning
	})

	// Second start is a no-op.
	if err := d.StartServer(ctx); err != nil {
		t.Fatalf("second StartServer: %v", err)
	}

	if err := d.StopServer(ctx); err != nil {
		t.Fatalf("StopServer: %v", err)
	}
	if err := d.StopServer(ctx); err != nil {
		t.Fatalf("second StopServer: %v", err)
	}
	waitFor(t, "monitor to show stopped", func() bool {
		return d.Status(ctx).Monitor.Server == monitor.StatusStopped
	})
}

func TestDaemonAutoStartBindFailureKeepsDaemonRunning(t *testing.T) {
	port := testsupport.OccupyPort(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFTPPort(port), testsupport.WithAutoStart())
	d := newDaemon(t, cfg)
	ctx := t.Context()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start should survive a failed auto start: %v", err)
	}
	if !d.Status(ctx).Running {
		t.Fatal("daemon should be running")
	}
	waitFor(t, "monitor to report the start failure", func() bool {
		snap := d.Status(ctx).Monitor
		return snap.Server == monitor.StatusError && snap.LastError != ""
	})

	err := d.StartServer(ctx)
	if !errors.Is(err, ftpd.ErrBind) {
		t.Fatalf("expected ErrBind on manual start, got %v", err)
	}
}

func TestDaemonRetryFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	if err := d.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tempPath := filepath.Join(cfg.Paths.RootDir, ".telegate-incoming", "abc.part")
	testsupport.WriteFile(t, tempPath, 64)
	store := testsupport.MustOpenLedger(t, cfg)
	recorded := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "[Main FAN]_reading_CH0_001.bin", tempPath)

	failures, err := d.Failures(t.Context(), false)
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	if len(failures) != 1 || failures[0].ID != recorded.ID {
		t.Fatalf("expected the recorded failure, got %+v", failures)
	}
	if got := d.Status(t.Context()).OpenFailures; got != 1 {
		t.Fatalf("expected 1 open failure, got %d", got)
	}

	retried, err := d.RetryFailure(t.Context(), recorded.ID)
	if err != nil {
		t.Fatalf("RetryFailure: %v", err)
	}
	if retried.Status != ledger.StatusRetried {
		t.Fatalf("expected retried status, got %s", retried.Status)
	}
	want := filepath.Join(cfg.Paths.RootDir, "Main FAN", "20240301", "CH0", "[Main FAN]_reading_CH0_001.bin")
	if retried.DestinationPath != want {
		t.Fatalf("destination = %q, want %q", retried.DestinationPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("retried file missing: %v", err)
	}

	if _, err := d.ResolveFailure(t.Context(), recorded.ID); !errors.Is(err, ledger.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen resolving a retried failure, got %v", err)
	}
}

func TestDaemonTestNotificationWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	sent, message, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if sent || message != "ntfy topic not configured" {
		t.Fatalf("unexpected result: sent=%v message=%q", sent, message)
	}
}

func TestDaemonStartCleansAbandonedUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	incoming := filepath.Join(cfg.Paths.RootDir, ftpd.IncomingDir)
	abandoned := filepath.Join(incoming, "abandoned.part")
	failed := filepath.Join(incoming, "failed.part")
	testsupport.WriteFile(t, abandoned, 8)
	testsupport.WriteFile(t, failed, 8)
	testsupport.Backdate(t, abandoned, 48*time.Hour)
	testsupport.Backdate(t, failed, 48*time.Hour)

	d := newDaemon(t, cfg)
	store := testsupport.MustOpenLedger(t, cfg)
	testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "[Main FAN]_x_CH0_1.bin", failed)

	if err := d.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := os.Stat(abandoned); !os.IsNotExist(err) {
		t.Fatalf("abandoned upload should be removed, stat err=%v", err)
	}
	if _, err := os.Stat(failed); err != nil {
		t.Fatalf("staged file of an open failure must survive: %v", err)
	}
}
