// Package daemonrun hosts the telegate daemon process: logging setup, the
// daemon itself, the IPC socket and signal handling.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"telegate/internal/config"
	"telegate/internal/daemon"
	"telegate/internal/ipc"
	"telegate/internal/logging"
	"telegate/internal/notifications"
	"telegate/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the telegate daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("telegate-%s.log", runID))
	logHub := logging.NewStreamHub(cfg.Events.LogHistory)

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Stream:           logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "telegate-*.log", Exclude: []string{logPath}},
	)
	logStartupSnapshot(logger, cfg)
	runPreflight(signalCtx, logger, cfg)

	d, err := daemon.New(cfg, daemon.Options{
		Logger:   logger,
		Stream:   logHub,
		Notifier: notifications.NewService(cfg),
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another telegate instance and the state directory permissions"),
			logging.String(logging.FieldImpact, "no uploads will be accepted"),
		)
		return err
	}

	if err := ensureCurrentLogPointer(cfg.LogFilePath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update telegate.log link: %v\n", err)
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("telegate daemon shutting down")
	return nil
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg, preflight.Options{SkipPorts: !cfg.AutoStart})
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "uploads may fail until this is fixed"),
			logging.String(logging.FieldErrorHint, "run telegate check for details"),
		)
	}
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("startup snapshot",
		logging.String(logging.FieldEventType, "startup_snapshot"),
		logging.String("instance_id", uuid.NewString()),
		logging.String("listen_addr", cfg.ListenAddr()),
		logging.String("root_dir", cfg.Paths.RootDir),
		logging.Int("users", len(cfg.FTP.Users)),
		logging.Int("devices", len(cfg.Devices.Names)),
		logging.Bool("auto_start", cfg.AutoStart),
		logging.String("collision", cfg.Storage.Collision),
		logging.Bool("api_enabled", cfg.Paths.APIBind != ""),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
		logging.Bool("ntfy_configured", cfg.Notifications.NtfyTopic != ""),
	)
}
