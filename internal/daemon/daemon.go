package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"telegate/internal/auth"
	"telegate/internal/classify"
	"telegate/internal/clock"
	"telegate/internal/config"
	"telegate/internal/events"
	"telegate/internal/ftpd"
	"telegate/internal/ingest"
	"telegate/internal/ledger"
	"telegate/internal/liveness"
	"telegate/internal/logging"
	"telegate/internal/monitor"
	"telegate/internal/notifications"
	"telegate/internal/staging"
	"telegate/internal/storage"
)

const (
	serverStopTimeout = 10 * time.Second
	// stagingMaxAge bounds how long an unreferenced partial upload survives.
	stagingMaxAge = 24 * time.Hour
)

var (
	// ErrNotRunning is returned by operations that need a started daemon.
	ErrNotRunning = errors.New("daemon not running")
	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrFinished is returned by Start after the daemon has been stopped; the
	// event bridge cannot be reopened.
	ErrFinished = errors.New("daemon already stopped; create a new one")
	// ErrLocked means another telegate daemon holds the state lock.
	ErrLocked = errors.New("another telegate daemon instance is already running")
)

// Options supplies optional collaborators. Zero values select production
// defaults.
type Options struct {
	Logger   *slog.Logger
	Stream   *logging.StreamHub
	Notifier notifications.Service
	Clock    clock.Clock
}

// Daemon coordinates the gateway components and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	stream   *logging.StreamHub
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	tracker  *liveness.Tracker
	sweeper  *liveness.Sweeper
	bridge   *events.Bridge
	monitor  *monitor.Monitor
	ledger   *ledger.Store
	router   *storage.Router
	endpoint *ingest.Endpoint
	server   *ftpd.Server
	api      *apiServer

	running  atomic.Bool
	finished atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	LedgerPath   string
	RootDir      string
	Server       ftpd.State
	ListenAddr   string
	Addr         string
	Clients      int
	Monitor      monitor.Snapshot
	Sessions     []ingest.SessionInfo
	OpenFailures int
}

// New constructs a daemon with initialized dependencies. The failure ledger
// is opened here; everything that runs is started by Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	authenticator, err := auth.NewStatic(cfg.FTP.Users)
	if err != nil {
		return nil, fmt.Errorf("configure ftp users: %w", err)
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open failure ledger: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		stream:   opts.Stream,
		notifier: notifier,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		ledger:   store,
	}

	d.bridge = events.NewBridge(cfg.Events.QueueSize)
	d.tracker = liveness.NewTracker(cfg.Devices.Names, liveness.Options{
		Debounce: cfg.DebounceWindow(),
		Clock:    opts.Clock,
		Observer: liveness.ObserverFunc(func(dev liveness.Device) {
			d.publish(events.DeviceState(dev))
		}),
	})
	d.sweeper = liveness.NewSweeper(d.tracker, liveness.SweeperOptions{
		Interval:  cfg.SweepInterval(),
		Threshold: cfg.StaleThreshold(),
		Clock:     opts.Clock,
		Logger:    logger,
		Report:    d.reportTransition,
	})
	d.monitor = monitor.New(cfg.Devices.Names, monitor.Options{
		History:       cfg.Events.LogHistory,
		Notifier:      notifier,
		NotifyTimeout: time.Duration(cfg.Notifications.RequestTimeout) * time.Second,
		Logger:        logger,
	})
	d.router = storage.NewRouter(storage.Policy(cfg.Storage.Collision), logger)
	d.endpoint = ingest.New(ingest.Options{
		Known:    classify.NewKnown(cfg.Devices.Names),
		Router:   d.router,
		Tracker:  d.tracker,
		Sink:     d.bridge,
		Failures: store,
		Logger:   logger,
		Clock:    opts.Clock,
	})
	d.server = ftpd.New(ftpd.Options{
		ListenHost:       cfg.FTP.ListenHost,
		Port:             cfg.FTP.Port,
		PassivePortStart: cfg.FTP.PassivePortStart,
		PassivePortEnd:   cfg.FTP.PassivePortEnd,
		PublicHost:       cfg.FTP.PublicHost,
		Banner:           cfg.FTP.Banner,
		IdleTimeout:      time.Duration(cfg.FTP.IdleTimeout) * time.Second,
		Auth:             authenticator,
		Endpoint:         d.endpoint,
		Sink:             d.bridge,
		Logger:           logger,
	})
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the event consumer, the
// staleness sweeper, alert delivery and the HTTP API. The FTP listener is
// started too when auto_start is set; a failed auto start is reported but
// leaves the daemon running so the operator can fix the port and retry.
func (d *Daemon) Start(ctx context.Context) error {
	if d.finished.Load() {
		return ErrFinished
	}
	if d.running.Load() {
		return ErrAlreadyRunning
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}

	d.cleanStaging(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		_ = d.bridge.Run(context.WithoutCancel(runCtx), d.monitor)
	}()
	go func() {
		defer d.wg.Done()
		d.monitor.RunAlerts(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		_ = d.sweeper.Run(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("telegate daemon started",
		logging.String("lock", d.lockPath),
		logging.String("root", d.cfg.Paths.RootDir),
		logging.Int("devices", len(d.cfg.Devices.Names)),
	)

	if d.cfg.AutoStart {
		if err := d.StartServer(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "auto start failed", "auto_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "devices cannot upload until the server is started"),
				logging.String(logging.FieldErrorHint, "free the FTP port and run 'telegate server start'"),
			)
		}
	}
	return nil
}

// cleanStaging removes partial uploads abandoned by an earlier run. Staged
// files of open failures are kept for retry.
func (d *Daemon) cleanStaging(ctx context.Context) {
	keep := map[string]struct{}{}
	open, err := d.ledger.List(ctx, false)
	if err != nil {
		d.logger.Warn("skip staging cleanup", logging.Error(err))
		return
	}
	for _, f := range open {
		keep[f.TempPath] = struct{}{}
	}
	result := staging.CleanStale(ctx, d.incomingDirs(), stagingMaxAge, keep, d.logger)
	if len(result.Removed) > 0 {
		d.logger.Info("staging cleanup finished",
			logging.Int("removed", len(result.Removed)),
			logging.Int("kept", result.Kept),
			logging.String(logging.FieldEventType, "staging_cleanup_summary"),
		)
	}
}

func (d *Daemon) incomingDirs() []string {
	seen := map[string]bool{}
	var dirs []string
	add := func(root string) {
		if root == "" || seen[root] {
			return
		}
		seen[root] = true
		dirs = append(dirs, filepath.Join(root, ftpd.IncomingDir))
	}
	add(d.cfg.Paths.RootDir)
	for _, user := range d.cfg.FTP.Users {
		add(user.RootDir)
	}
	return dirs
}

// Stop shuts the FTP server, drains pending events to the monitor, and
// releases the daemon lock. A stopped daemon cannot be started again.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), serverStopTimeout)
	if err := d.server.Stop(stopCtx); err != nil {
		logging.WarnWithContext(d.logger, "ftp server did not stop cleanly", "server_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some sessions may have been cut off"),
		)
	}
	cancelStop()

	d.bridge.Close()
	d.tracker.Close()
	d.api.stop()

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.finished.Store(true)
	d.logger.Info("telegate daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.ledger != nil {
		return d.ledger.Close()
	}
	return nil
}

// StartServer binds the FTP listener. Starting a running server is a no-op.
func (d *Daemon) StartServer(_ context.Context) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	if d.server.State() == ftpd.StateStopped {
		d.monitor.SetStarting()
	}
	return d.server.Start()
}

// StopServer closes the FTP listener and every session. Stopping a stopped
// server is a no-op.
func (d *Daemon) StopServer(ctx context.Context) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, serverStopTimeout)
		defer cancel()
	}
	return d.server.Stop(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		LedgerPath:   d.ledger.Path(),
		RootDir:      d.cfg.Paths.RootDir,
		Server:       d.server.State(),
		ListenAddr:   d.server.ListenAddr(),
		Addr:         d.server.Addr(),
		Clients:      d.server.Clients(),
		Monitor:      d.monitor.Snapshot(),
		Sessions:     d.endpoint.Sessions(),
	}
	if count, err := d.ledger.OpenCount(ctx); err == nil {
		status.OpenFailures = count
	} else {
		d.logger.Debug("count open failures", logging.Error(err))
	}
	return status
}

// Devices returns the device panel.
func (d *Daemon) Devices() []monitor.DeviceRow {
	return d.monitor.Devices()
}

// Activity returns monitor log lines after since.
func (d *Daemon) Activity(since uint64, limit int) []monitor.LogLine {
	return d.monitor.Logs(since, limit)
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.cfg.LogFilePath()
}

// LogStream returns the structured log hub, if any.
func (d *Daemon) LogStream() *logging.StreamHub {
	return d.stream
}

// Failures lists ledger entries; all includes resolved and retried ones.
func (d *Daemon) Failures(ctx context.Context, all bool) ([]*ledger.Failure, error) {
	return d.ledger.List(ctx, all)
}

// ResolveFailure dismisses an open ledger entry without moving its file.
func (d *Daemon) ResolveFailure(ctx context.Context, id int64) (*ledger.Failure, error) {
	f, err := d.ledger.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	d.logger.Info("failure resolved",
		logging.Int64("failure_id", id),
		logging.String(logging.FieldFilename, f.OriginalFilename),
	)
	return f, nil
}

// RetryFailure re-routes the staged file of an open ledger entry into the
// storage layout under its original received date.
func (d *Daemon) RetryFailure(ctx context.Context, id int64) (*ledger.Failure, error) {
	f, err := d.ledger.Retry(ctx, id, d.router)
	if err != nil {
		return f, err
	}
	d.logger.Info("failure retried",
		logging.Int64("failure_id", id),
		logging.String(logging.FieldDevice, f.Device),
		logging.String(logging.FieldChannel, f.Channel),
		logging.String("destination", f.DestinationPath),
	)
	d.publish(events.Log(events.LevelInfo, f.SessionID, "[ok] retried "+f.OriginalFilename+", saved to: "+f.DestinationPath))
	return f, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// APIAddr returns the bound HTTP API address, or "" when the API is disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

func (d *Daemon) reportTransition(tr liveness.Transition) {
	switch tr.Kind {
	case liveness.BecameStale:
		d.publish(events.DeviceStale(tr.Device))
	case liveness.Recovered:
		d.publish(events.DeviceRecovered(tr.Device))
	}
}

func (d *Daemon) publish(evt events.Event) {
	if err := d.bridge.Publish(evt); err != nil && !errors.Is(err, events.ErrClosed) {
		d.logger.Debug("publish event", logging.String("kind", string(evt.Kind)), logging.Error(err))
	}
}
