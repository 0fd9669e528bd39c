// Package monitor is the single consumer of the event bridge. It owns the
// operator-facing view of the gateway: recent activity lines, the device panel
// and the server status. All mutation happens on the bridge's consumer
// goroutine; readers get copies.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telegate/internal/events"
	"telegate/internal/liveness"
	"telegate/internal/logging"
	"telegate/internal/notifications"
)

// DefaultHistory matches the scrollback the operator view keeps.
const DefaultHistory = 1000

const (
	alertQueueSize = 64
	neverReceived  = "never"
)

// ServerStatus is the FTP server state shown to operators.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusError    ServerStatus = "error"
)

// LogLine is one activity entry.
type LogLine struct {
	Sequence  uint64       `json:"seq"`
	Time      time.Time    `json:"ts"`
	Level     events.Level `json:"level"`
	Text      string       `json:"text"`
	SessionID string       `json:"session_id,omitempty"`
}

// DeviceRow is one line of the device panel.
type DeviceRow struct {
	Label        string                `json:"label"`
	State        liveness.DisplayState `json:"state"`
	LastSeen     time.Time             `json:"last_seen,omitzero"`
	LastReceived string                `json:"last_received"`
	Stale        bool                  `json:"stale"`
	Configured   bool                  `json:"configured"`

	version uint64
}

// Counters tally upload outcomes since start.
type Counters struct {
	Stored       int `json:"stored"`
	Unclassified int `json:"unclassified"`
	Failed       int `json:"failed"`
}

// Snapshot is a copy of the monitor state.
type Snapshot struct {
	Server    ServerStatus `json:"server"`
	Addr      string       `json:"addr,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	Devices   []DeviceRow  `json:"devices"`
	Counters  Counters     `json:"counters"`
}

// Options configures a Monitor.
type Options struct {
	History       int
	Notifier      notifications.Service
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

type alert struct {
	event   notifications.Event
	payload notifications.Payload
}

// Monitor implements events.Consumer.
type Monitor struct {
	logger        *slog.Logger
	notifier      notifications.Service
	notifyTimeout time.Duration
	alerts        chan alert

	mu       sync.RWMutex
	history  int
	logs     []LogLine
	nextSeq  uint64
	devices  map[string]*DeviceRow
	order    []string
	server   ServerStatus
	addr     string
	lastErr  string
	counters Counters
}

// New creates a monitor with rows for the configured devices.
func New(configured []string, opts Options) *Monitor {
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	m := &Monitor{
		logger:        logging.NewComponentLogger(opts.Logger, "monitor"),
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
		history:       opts.History,
		devices:       make(map[string]*DeviceRow, len(configured)),
		server:        StatusStopped,
	}
	if m.notifier != nil {
		m.alerts = make(chan alert, alertQueueSize)
	}
	for _, label := range configured {
		if _, ok := m.devices[label]; ok {
			continue
		}
		m.devices[label] = &DeviceRow{Label: label, State: liveness.StateIdle, LastReceived: neverReceived, Configured: true}
		m.order = append(m.order, label)
	}
	return m
}

// Consume applies one event. It runs on the bridge consumer goroutine.
func (m *Monitor) Consume(evt events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch evt.Kind {
	case events.KindLog:
		m.appendLocked(evt.Time, evt.Level, evt.SessionID, evt.Text)
	case events.KindDeviceSeen:
		row := m.rowLocked(evt.Device.Label)
		if evt.Device.LastSeen.After(row.LastSeen) {
			row.LastSeen = evt.Device.LastSeen
			row.LastReceived = evt.Device.LastSeen.Local().Format("15:04:05")
		}
	case events.KindDeviceState:
		m.applyDeviceLocked(evt.Device)
	case events.KindDeviceStale:
		m.applyDeviceLocked(evt.Device)
		if evt.Device.NeverSeen() {
			m.appendLocked(evt.Time, events.LevelWarn, "", fmt.Sprintf("[!] %s: no file received since start", evt.Device.Label))
		} else {
			m.appendLocked(evt.Time, events.LevelWarn, "", fmt.Sprintf("[!] %s stopped reporting (last file %s)",
				evt.Device.Label, evt.Device.LastSeen.Local().Format("15:04:05")))
		}
		m.alertLocked(notifications.EventDeviceStale, notifications.Payload{
			"device":   evt.Device.Label,
			"lastSeen": evt.Device.LastSeen,
		})
	case events.KindDeviceRecovered:
		m.applyDeviceLocked(evt.Device)
		m.appendLocked(evt.Time, events.LevelInfo, "", fmt.Sprintf("[+] %s is reporting again", evt.Device.Label))
		m.alertLocked(notifications.EventDeviceRecovered, notifications.Payload{"device": evt.Device.Label})
	case events.KindServerStarted:
		m.server = StatusRunning
		m.addr = evt.Addr
		m.lastErr = ""
		m.appendLocked(evt.Time, events.LevelInfo, "", "FTP server started on "+evt.Addr)
	case events.KindServerStartFailed:
		m.server = StatusError
		m.addr = ""
		m.lastErr = errorText(evt.Err)
		m.appendLocked(evt.Time, events.LevelError, "", "[x] FTP server failed to start: "+m.lastErr)
		m.alertLocked(notifications.EventServerStartFailed, notifications.Payload{"error": m.lastErr})
	case events.KindServerStopped:
		m.server = StatusStopped
		m.addr = ""
		m.appendLocked(evt.Time, events.LevelInfo, "", "FTP server stopped")
	case events.KindIngestOutcome:
		m.applyOutcomeLocked(evt)
	}
}

func (m *Monitor) applyOutcomeLocked(evt events.Event) {
	file := evt.File
	if file == nil {
		return
	}
	switch file.Outcome {
	case events.Stored:
		m.counters.Stored++
		m.appendLocked(evt.Time, evt.Level, file.SessionID, "[ok] file saved to: "+file.DestinationPath)
	case events.StoredUnclassified:
		m.counters.Unclassified++
		m.appendLocked(evt.Time, evt.Level, file.SessionID, "[ok] file saved to: "+file.DestinationPath+" (unclassified)")
	case events.Failed:
		m.counters.Failed++
		text := errorText(file.Err)
		m.appendLocked(evt.Time, evt.Level, file.SessionID,
			fmt.Sprintf("[x] could not store %s: %s (kept at %s)", file.OriginalFilename, text, file.SourcePath))
		m.alertLocked(notifications.EventIngestFailed, notifications.Payload{
			"filename": file.OriginalFilename,
			"error":    text,
			"tempPath": file.SourcePath,
		})
	}
}

func (m *Monitor) rowLocked(label string) *DeviceRow {
	row, ok := m.devices[label]
	if !ok {
		row = &DeviceRow{Label: label, State: liveness.StateIdle, LastReceived: neverReceived}
		m.devices[label] = row
		m.order = append(m.order, label)
	}
	return row
}

func (m *Monitor) applyDeviceLocked(d liveness.Device) {
	row := m.rowLocked(d.Label)
	if d.Version == 0 || d.Version >= row.version {
		if d.State != "" {
			row.State = d.State
		}
		row.Stale = d.Stale
		row.version = max(row.version, d.Version)
	}
	row.Configured = row.Configured || d.Configured
	if d.LastSeen.After(row.LastSeen) {
		row.LastSeen = d.LastSeen
		row.LastReceived = d.LastSeen.Local().Format("15:04:05")
	}
}

func (m *Monitor) appendLocked(t time.Time, level events.Level, sessionID, text string) {
	if t.IsZero() {
		t = time.Now()
	}
	if level == "" {
		level = events.LevelInfo
	}
	m.nextSeq++
	line := LogLine{Sequence: m.nextSeq, Time: t, Level: level, Text: logging.PlainText(text), SessionID: sessionID}
	if len(m.logs) == m.history {
		copy(m.logs, m.logs[1:])
		m.logs = m.logs[:m.history-1]
	}
	m.logs = append(m.logs, line)
}

func (m *Monitor) alertLocked(event notifications.Event, payload notifications.Payload) {
	if m.alerts == nil {
		return
	}
	select {
	case m.alerts <- alert{event: event, payload: payload}:
	default:
		logging.WarnWithContext(m.logger, "alert queue full; notification dropped", "alert_dropped",
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, "one push notification was not sent"),
			logging.String(logging.FieldErrorHint, "check ntfy reachability"),
		)
	}
}

// RunAlerts delivers queued notifications until ctx ends. It returns
// immediately when no notifier is configured.
func (m *Monitor) RunAlerts(ctx context.Context) {
	if m.alerts == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-m.alerts:
			sendCtx, cancel := context.WithTimeout(ctx, m.notifyTimeout)
			if err := m.notifier.Publish(sendCtx, a.event, a.payload); err != nil {
				logging.WarnWithContext(m.logger, "notification failed", "notification_failed",
					logging.String("event", string(a.event)),
					logging.Error(err),
					logging.String(logging.FieldImpact, "operator was not alerted"),
					logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				)
			}
			cancel()
		}
	}
}

// SetStarting marks a start attempt in progress.
func (m *Monitor) SetStarting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.server = StatusStarting
	m.lastErr = ""
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Server:    m.server,
		Addr:      m.addr,
		LastError: m.lastErr,
		Devices:   m.devicesLocked(),
		Counters:  m.counters,
	}
}

// Devices returns the device panel in configured order, then first-seen order.
func (m *Monitor) Devices() []DeviceRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devicesLocked()
}

func (m *Monitor) devicesLocked() []DeviceRow {
	out := make([]DeviceRow, 0, len(m.order))
	for _, label := range m.order {
		out = append(out, *m.devices[label])
	}
	return out
}

// Logs returns activity lines with sequence greater than since, oldest first,
// capped at limit (0 means all retained).
func (m *Monitor) Logs(since uint64, limit int) []LogLine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := len(m.logs)
	for i, line := range m.logs {
		if line.Sequence > since {
			start = i
			break
		}
	}
	lines := m.logs[start:]
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make([]LogLine, len(lines))
	copy(out, lines)
	return out
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
