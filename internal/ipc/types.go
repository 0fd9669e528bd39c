package ipc

import "telegate/internal/api"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and FTP server status.
type StatusResponse = api.DaemonStatus

// DevicesRequest fetches the device panel.
type DevicesRequest struct{}

// DevicesResponse lists every known device.
type DevicesResponse = api.DeviceListResponse

// ServerStartRequest binds the FTP listener.
type ServerStartRequest struct{}

// ServerStopRequest closes the FTP listener and its sessions.
type ServerStopRequest struct{}

// ServerResponse reports the FTP listener after a start or stop.
type ServerResponse struct {
	Server  api.ServerStatus `json:"server"`
	Message string           `json:"message"`
}

// FailuresRequest lists ledger entries. All includes resolved and retried.
type FailuresRequest struct {
	All bool `json:"all"`
}

// FailuresResponse contains ledger entries, newest first.
type FailuresResponse = api.FailureListResponse

// FailureRequest addresses one ledger entry.
type FailureRequest struct {
	ID int64 `json:"id"`
}

// FailureResponse contains one ledger entry after an action.
type FailureResponse = api.FailureResponse

// ActivityRequest fetches monitor activity lines after Since.
type ActivityRequest struct {
	Since uint64 `json:"since"`
	Limit int    `json:"limit"`
}

// ActivityResponse contains activity lines and the next cursor.
type ActivityResponse = api.ActivityResponse

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
