package liveness

import (
	"context"
	"log/slog"
	"time"

	"telegate/internal/clock"
	"telegate/internal/logging"
)

// DefaultSweepInterval is the staleness sweep cadence.
const DefaultSweepInterval = time.Second

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Interval  time.Duration
	Threshold time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
	// Report receives each staleness edge in sweep order.
	Report func(Transition)
}

// Sweeper runs Tracker.Sweep on a fixed cadence from a single goroutine, so at
// most one sweep is in flight. Ticks that arrive while a sweep is running are
// dropped rather than queued.
type Sweeper struct {
	tracker   *Tracker
	interval  time.Duration
	threshold time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	report    func(Transition)
}

// NewSweeper creates a Sweeper for tracker.
func NewSweeper(tracker *Tracker, opts SweeperOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Sweeper{
		tracker:   tracker,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		clock:     opts.Clock,
		logger:    logging.NewComponentLogger(opts.Logger, "liveness"),
		report:    opts.Report,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Debug("staleness sweeper started",
		logging.Duration("interval", s.interval),
		logging.Duration("threshold", s.threshold),
	)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("staleness sweeper stopping")
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce performs a single sweep at the clock's current time. Reports are
// delivered before any debounce change that follows the sweep.
func (s *Sweeper) SweepOnce() []Transition {
	return s.tracker.SweepReport(s.clock.Now(), s.threshold, s.deliver)
}

func (s *Sweeper) deliver(tr Transition) {
	s.logTransition(tr)
	if s.report != nil {
		s.report(tr)
	}
}

func (s *Sweeper) logTransition(tr Transition) {
	d := tr.Device
	switch tr.Kind {
	case BecameStale:
		if d.NeverSeen() && d.Configured {
			// Matches the monitor's "never" column; not worth a warning.
			s.logger.Info("device has not reported since start",
				logging.String(logging.FieldDevice, d.Label),
				logging.String(logging.FieldEventType, "device_never_seen"),
			)
			return
		}
		logging.WarnWithContext(s.logger, "⚠ device stopped reporting", "device_stale",
			logging.String(logging.FieldDevice, d.Label),
			logging.Time("last_seen", d.LastSeen),
			logging.Duration("threshold", s.threshold),
			logging.String(logging.FieldImpact, "no telemetry received from this device"),
			logging.String(logging.FieldErrorHint, "check the instrument and its network link"),
			logging.Alert("device_stale"),
		)
	case Recovered:
		s.logger.Info("device reporting again",
			logging.String(logging.FieldDevice, d.Label),
			logging.Time("last_seen", d.LastSeen),
			logging.String(logging.FieldEventType, "device_recovered"),
		)
	}
}
