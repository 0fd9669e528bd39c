// Package daemonctl launches, stops and inspects the telegate daemon process
// on behalf of the CLI.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"telegate/internal/api"
	"telegate/internal/config"
	"telegate/internal/ipc"
	"telegate/internal/ledger"
	"telegate/internal/preflight"
	"telegate/internal/storage"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached telegate daemon process in its own session.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"serve"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless it already answers on socketPath.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if running, pid, err := ProcessInfo(socketPath); err == nil && running {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, PID: status.PID}, nil
}

// WaitForShutdown waits for the daemon socket to stop answering.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("daemon did not stop: timeout waiting for shutdown")
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.PID, nil
}

// ReadPID returns the pid recorded in the daemon pid file, or 0.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// signalProcess delivers sig to pid, refusing to signal the caller.
func signalProcess(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("unable to determine daemon pid")
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// StopAndTerminate sends SIGTERM to the daemon and SIGKILL if it is still
// answering after gracePeriod. Stale pid and socket files are removed after
// a forced kill; the flock is released by the kernel.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	socketPath := cfg.SocketPath()
	pidPath := cfg.PIDPath()

	running, pid, err := ProcessInfo(socketPath)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == 0 {
		if pid, err = ReadPID(pidPath); err != nil {
			return StopResult{}, err
		}
	}

	result := StopResult{PID: pid}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return result, err
	}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}

	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(pidPath)
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	return result, nil
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(cfg.SocketPath(), executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// StatusLine is one labelled row of the status report.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// StatusSnapshot combines live daemon status with offline fallbacks.
type StatusSnapshot struct {
	Status *ipc.StatusResponse
	Checks []StatusLine
}

// BuildStatusSnapshot collects daemon status over IPC. When the daemon is
// down it reads the open failure count from the ledger directly and runs
// the preflight checks, including the port checks.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{Status: &ipc.StatusResponse{
		RootDir:    cfg.Paths.RootDir,
		LedgerPath: cfg.LedgerPath(),
		Server:     api.ServerStatus{State: "stopped", ListenAddr: cfg.ListenAddr()},
	}}

	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snapshot.Status = resp
		}
		_ = client.Close()
	}

	if !snapshot.Status.Running {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if count, err := OfflineOpenFailures(queryCtx, cfg); err == nil {
			snapshot.Status.OpenFailures = count
		}
	}

	snapshot.Checks = BuildSystemChecks(ctx, cfg, snapshot.Status)
	return snapshot, nil
}

// BuildSystemChecks turns runtime state and preflight results into status lines.
func BuildSystemChecks(ctx context.Context, cfg *config.Config, status *ipc.StatusResponse) []StatusLine {
	lines := make([]StatusLine, 0, 10)
	running := status != nil && status.Running
	if running {
		lines = append(lines, StatusLine{Label: "Telegate", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d)", status.PID)})
		switch status.Server.State {
		case "running":
			lines = append(lines, StatusLine{Label: "FTP Server", Severity: "ok", Detail: "Listening on " + status.Server.Addr})
		case "stopped":
			if status.Server.LastError != "" {
				lines = append(lines, StatusLine{Label: "FTP Server", Severity: "error", Detail: status.Server.LastError})
				break
			}
			lines = append(lines, StatusLine{Label: "FTP Server", Severity: "warn", Detail: "Stopped (run `telegate server start`)"})
		default:
			lines = append(lines, StatusLine{Label: "FTP Server", Severity: "info", Detail: strings.ToUpper(status.Server.State[:1]) + status.Server.State[1:]})
		}
	} else {
		lines = append(lines, StatusLine{Label: "Telegate", Severity: "warn", Detail: "Not running (run `telegate start`)"})
	}

	for _, r := range preflight.RunAll(ctx, cfg, preflight.Options{SkipPorts: running}) {
		severity := "error"
		if r.Passed {
			severity = "ok"
		}
		lines = append(lines, StatusLine{Label: r.Name, Severity: severity, Detail: r.Detail})
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "warn", Detail: "Not configured"})
	}
	if status != nil && status.OpenFailures > 0 {
		lines = append(lines, StatusLine{
			Label:    "Failures",
			Severity: "warn",
			Detail:   fmt.Sprintf("%d open (run `telegate failures list`)", status.OpenFailures),
		})
	}
	return lines
}

// OfflineOpenFailures counts open ledger entries without the daemon.
func OfflineOpenFailures(ctx context.Context, cfg *config.Config) (int, error) {
	if _, err := os.Stat(cfg.LedgerPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.OpenCount(ctx)
}

// OfflineFailures lists ledger entries without the daemon.
func OfflineFailures(ctx context.Context, cfg *config.Config, all bool) ([]*ledger.Failure, error) {
	if _, err := os.Stat(cfg.LedgerPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(ctx, all)
}

// WithOfflineLedger opens the ledger directly for maintenance while the
// daemon is down. Callers must check the daemon is not running first.
func WithOfflineLedger(cfg *config.Config, fn func(*ledger.Store, *storage.Router) error) error {
	store, err := ledger.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, storage.NewRouter(storage.Policy(cfg.Storage.Collision), nil))
}

// IsDaemonUnavailable reports whether err means nothing listens on the socket.
func IsDaemonUnavailable(err error) bool {
	return isDaemonUnavailable(err)
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
