package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering and alerting.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldDevice is the classified device label.
	FieldDevice = "device"
	// FieldChannel is the classified channel label.
	FieldChannel = "channel"
	// FieldSessionID identifies one FTP client session.
	FieldSessionID = "session_id"
	// FieldRemoteAddr is the peer address of an FTP session.
	FieldRemoteAddr = "remote_addr"
	// FieldUsername is the login name used by an FTP session.
	FieldUsername = "username"
	// FieldFilename is the original uploaded filename.
	FieldFilename = "filename"
)
