package api

import (
	"time"

	"telegate/internal/ingest"
	"telegate/internal/ledger"
	"telegate/internal/logging"
	"telegate/internal/monitor"
)

// FromDeviceRows converts the monitor device panel to API DTOs.
func FromDeviceRows(rows []monitor.DeviceRow) []Device {
	out := make([]Device, 0, len(rows))
	for _, row := range rows {
		out = append(out, Device{
			Label:        row.Label,
			State:        string(row.State),
			LastSeen:     formatTime(row.LastSeen),
			LastReceived: row.LastReceived,
			Stale:        row.Stale,
			Configured:   row.Configured,
		})
	}
	return out
}

// FromCounters converts monitor outcome counters.
func FromCounters(c monitor.Counters) Counters {
	return Counters{Stored: c.Stored, Unclassified: c.Unclassified, Failed: c.Failed}
}

// FromSessions converts endpoint session views.
func FromSessions(sessions []ingest.SessionInfo) []Session {
	if len(sessions) == 0 {
		return nil
	}
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Session{
			ID:          s.ID,
			RemoteAddr:  s.RemoteAddr,
			Username:    s.Username,
			ConnectedAt: formatTime(s.ConnectedAt),
			Uploads:     s.Uploads,
		})
	}
	return out
}

// FromLogEvents converts stream hub events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:  evt.Sequence,
			Timestamp: formatTime(evt.Timestamp),
			Level:     evt.Level,
			Message:   evt.Message,
			Component: evt.Component,
			Device:    evt.Device,
			Channel:   evt.Channel,
			SessionID: evt.SessionID,
			Fields:    evt.Fields,
		})
	}
	return out
}

// FromLogLines converts monitor activity lines.
func FromLogLines(lines []monitor.LogLine) []ActivityLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]ActivityLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, ActivityLine{
			Sequence:  line.Sequence,
			Timestamp: formatTime(line.Time),
			Level:     string(line.Level),
			Text:      line.Text,
			SessionID: line.SessionID,
		})
	}
	return out
}

// FromFailure converts a ledger record to its API representation.
func FromFailure(f *ledger.Failure) Failure {
	if f == nil {
		return Failure{}
	}
	return Failure{
		ID:               f.ID,
		SessionID:        f.SessionID,
		OriginalFilename: f.OriginalFilename,
		Device:           f.Device,
		Channel:          f.Channel,
		RootDir:          f.RootDir,
		TempPath:         f.TempPath,
		ErrorMessage:     f.ErrorMessage,
		ReceivedAt:       formatTime(f.ReceivedAt),
		Status:           string(f.Status),
		DestinationPath:  f.DestinationPath,
		Attempts:         f.Attempts,
		UpdatedAt:        formatTime(f.UpdatedAt),
	}
}

// FromFailures converts a slice of ledger records.
func FromFailures(failures []*ledger.Failure) []Failure {
	if len(failures) == 0 {
		return nil
	}
	out := make([]Failure, 0, len(failures))
	for _, f := range failures {
		out = append(out, FromFailure(f))
	}
	return out
}

// ParseTime reads a timestamp produced by this package. Empty input yields
// the zero time.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateTimeFormat, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTimeFormat)
}
