// Package events carries ingestion activity from FTP session goroutines to the
// single monitoring consumer.
package events

import (
	"time"

	"telegate/internal/liveness"
)

// Kind identifies an event variant.
type Kind string

const (
	KindLog               Kind = "log"
	KindDeviceSeen        Kind = "device_seen"
	KindDeviceState       Kind = "device_state"
	KindDeviceStale       Kind = "device_stale"
	KindDeviceRecovered   Kind = "device_recovered"
	KindServerStarted     Kind = "server_started"
	KindServerStartFailed Kind = "server_start_failed"
	KindServerStopped     Kind = "server_stopped"
	KindIngestOutcome     Kind = "ingest_outcome"
)

// Level is the severity attached to log events.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Outcome is the result of handling one completed upload.
type Outcome string

const (
	Stored             Outcome = "stored"
	StoredUnclassified Outcome = "stored_unclassified"
	Failed             Outcome = "failed"
)

// IngestedFile summarizes one completed upload.
type IngestedFile struct {
	SessionID        string
	OriginalFilename string
	Device           string
	Channel          string
	ReceivedAt       time.Time
	SourcePath       string
	DestinationPath  string
	Outcome          Outcome
	Warnings         []string
	Err              error
}

// Event is one message on the bridge. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind
	Time      time.Time
	Level     Level
	Text      string
	SessionID string
	Device    liveness.Device
	Addr      string
	Err       error
	File      *IngestedFile
}

// Log is a plain-text log line for the monitoring view.
func Log(level Level, sessionID, text string) Event {
	return Event{Kind: KindLog, Time: time.Now(), Level: level, SessionID: sessionID, Text: text}
}

// DeviceSeen reports that label delivered a file at t.
func DeviceSeen(label string, t time.Time) Event {
	return Event{Kind: KindDeviceSeen, Time: t, Device: liveness.Device{Label: label, LastSeen: t}}
}

// DeviceState carries a device snapshot after a debounce-driven change.
func DeviceState(d liveness.Device) Event {
	return Event{Kind: KindDeviceState, Time: time.Now(), Device: d}
}

// DeviceStale reports a device crossing the staleness threshold.
func DeviceStale(d liveness.Device) Event {
	return Event{Kind: KindDeviceStale, Time: time.Now(), Level: LevelWarn, Device: d}
}

// DeviceRecovered reports a stale device reporting again.
func DeviceRecovered(d liveness.Device) Event {
	return Event{Kind: KindDeviceRecovered, Time: time.Now(), Device: d}
}

// ServerStarted reports that the listener is bound and serving on addr.
func ServerStarted(addr string) Event {
	return Event{Kind: KindServerStarted, Time: time.Now(), Addr: addr}
}

// ServerStartFailed reports a startup that never reached the serving state.
func ServerStartFailed(err error) Event {
	return Event{Kind: KindServerStartFailed, Time: time.Now(), Level: LevelError, Err: err}
}

// ServerStopped reports that the listener and all sessions are closed.
func ServerStopped() Event {
	return Event{Kind: KindServerStopped, Time: time.Now()}
}

// IngestOutcome carries the single outcome of one upload.
func IngestOutcome(f IngestedFile) Event {
	level := LevelInfo
	switch f.Outcome {
	case StoredUnclassified:
		level = LevelWarn
	case Failed:
		level = LevelError
	}
	return Event{Kind: KindIngestOutcome, Time: f.ReceivedAt, Level: level, SessionID: f.SessionID, File: &f}
}
