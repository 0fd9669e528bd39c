package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"telegate/internal/daemon"
	"telegate/internal/ipc"
	"telegate/internal/ledger"
	"telegate/internal/logging"
	"telegate/internal/testsupport"
)

func startIPC(t *testing.T, d *daemon.Daemon, socket string) *ipc.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, socket, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithDevices("Main FAN"),
		testsupport.WithFTPPort(testsupport.FreePort(t)),
	)
	d, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	if err := d.Start(t.Context()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	client := startIPC(t, d, filepath.Join(cfg.Paths.StateDir, "ipc.sock"))

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if status.Server.State != "stopped" {
		t.Fatalf("expected stopped server, got %q", status.Server.State)
	}

	devices, err := client.Devices()
	if err != nil {
		t.Fatalf("Devices RPC failed: %v", err)
	}
	if len(devices.Devices) != 1 || devices.Devices[0].Label != "Main FAN" {
		t.Fatalf("unexpected devices: %+v", devices.Devices)
	}

	started, err := client.StartServer()
	if err != nil {
		t.Fatalf("StartServer RPC failed: %v", err)
	}
	if started.Server.State != "running" || started.Server.Addr == "" {
		t.Fatalf("unexpected start response: %+v", started)
	}
	stopped, err := client.StopServer()
	if err != nil {
		t.Fatalf("StopServer RPC failed: %v", err)
	}
	if stopped.Server.State != "stopped" {
		t.Fatalf("unexpected stop response: %+v", stopped)
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification RPC failed: %v", err)
	}
	if notify.Sent {
		t.Fatalf("expected no notification without topic, got %+v", notify)
	}
}

func TestIPCFailureActions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	client := startIPC(t, d, filepath.Join(cfg.Paths.StateDir, "ipc.sock"))

	store := testsupport.MustOpenLedger(t, cfg)
	staged := filepath.Join(cfg.Paths.RootDir, ".telegate-incoming", "one.part")
	testsupport.WriteFile(t, staged, 32)
	first := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "[Main FAN]_a_CH0_1.bin", staged)
	second := testsupport.RecordFailure(t, store, cfg.Paths.RootDir, "[Main FAN]_a_CH0_2.bin", filepath.Join(cfg.Paths.RootDir, "missing.part"))

	list, err := client.Failures(false)
	if err != nil {
		t.Fatalf("Failures RPC failed: %v", err)
	}
	if len(list.Failures) != 2 {
		t.Fatalf("expected 2 open failures, got %d", len(list.Failures))
	}

	retried, err := client.RetryFailure(first.ID)
	if err != nil {
		t.Fatalf("RetryFailure RPC failed: %v", err)
	}
	if retried.Failure.Status != string(ledger.StatusRetried) {
		t.Fatalf("expected retried, got %+v", retried.Failure)
	}
	if _, err := os.Stat(retried.Failure.DestinationPath); err != nil {
		t.Fatalf("retried file missing: %v", err)
	}

	resolved, err := client.ResolveFailure(second.ID)
	if err != nil {
		t.Fatalf("ResolveFailure RPC failed: %v", err)
	}
	if resolved.Failure.Status != string(ledger.StatusResolved) {
		t.Fatalf("expected resolved, got %+v", resolved.Failure)
	}

	if _, err := client.ResolveFailure(second.ID); err == nil {
		t.Fatal("expected error resolving twice")
	}
	if _, err := client.RetryFailure(0); err == nil {
		t.Fatal("expected error for invalid id")
	}

	open, err := client.Failures(false)
	if err != nil {
		t.Fatalf("Failures RPC failed: %v", err)
	}
	if len(open.Failures) != 0 {
		t.Fatalf("expected no open failures, got %d", len(open.Failures))
	}
	all, err := client.Failures(true)
	if err != nil {
		t.Fatalf("Failures RPC failed: %v", err)
	}
	if len(all.Failures) != 2 {
		t.Fatalf("expected 2 failures with all, got %d", len(all.Failures))
	}
}

func TestIPCLogTail(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	client := startIPC(t, d, filepath.Join(cfg.Paths.StateDir, "ipc.sock"))

	logPath := d.LogPath()
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	logResp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail initial failed: %v", err)
	}
	if len(logResp.Lines) != 2 || logResp.Lines[0] != "second" || logResp.Lines[1] != "third" {
		t.Fatalf("unexpected log tail response: %#v", logResp.Lines)
	}

	followDone := make(chan struct{})
	go func(offset int64) {
		defer close(followDone)
		resp, err := client.LogTail(ipc.LogTailRequest{Offset: offset, Follow: true, WaitMillis: 2000})
		if err != nil {
			t.Errorf("LogTail follow error: %v", err)
			return
		}
		if len(resp.Lines) != 1 || resp.Lines[0] != "fourth" {
			t.Errorf("unexpected follow lines: %#v", resp.Lines)
		}
	}(logResp.Offset)

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("append log: %v", err)
	}
	_, _ = f.WriteString("fourth\n")
	_ = f.Close()

	select {
	case <-followDone:
	case <-time.After(10 * time.Second):
		t.Fatal("log tail follow timed out")
	}
}
