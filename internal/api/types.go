package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ServerStatus describes the FTP listener in a transport-friendly format.
type ServerStatus struct {
	State      string `json:"state"`
	ListenAddr string `json:"listenAddr"`
	Addr       string `json:"addr,omitempty"`
	LastError  string `json:"lastError,omitempty"`
	Clients    int    `json:"clients"`
}

// Counters tallies upload outcomes since the daemon started.
type Counters struct {
	Stored       int `json:"stored"`
	Unclassified int `json:"unclassified"`
	Failed       int `json:"failed"`
}

// Session is one connected FTP client.
type Session struct {
	ID          string `json:"id"`
	RemoteAddr  string `json:"remoteAddr"`
	Username    string `json:"username,omitempty"`
	ConnectedAt string `json:"connectedAt"`
	Uploads     int    `json:"uploads"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	LockFilePath string       `json:"lockFilePath"`
	LedgerPath   string       `json:"ledgerPath"`
	RootDir      string       `json:"rootDir"`
	Server       ServerStatus `json:"server"`
	Counters     Counters     `json:"counters"`
	OpenFailures int          `json:"openFailures"`
	Sessions     []Session    `json:"sessions"`
}

// Device is one row of the device panel.
type Device struct {
	Label        string `json:"label"`
	State        string `json:"state"`
	LastSeen     string `json:"lastSeen,omitempty"`
	LastReceived string `json:"lastReceived"`
	Stale        bool   `json:"stale"`
	Configured   bool   `json:"configured"`
}

// DeviceListResponse wraps the device panel.
type DeviceListResponse struct {
	Devices []Device `json:"devices"`
}

// LogEvent is a structured daemon log line.
type LogEvent struct {
	Sequence  uint64            `json:"seq"`
	Timestamp string            `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	Device    string            `json:"device,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse is one page of daemon log events. Next is the cursor for
// the following request.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ActivityLine is one entry of the operator activity view.
type ActivityLine struct {
	Sequence  uint64 `json:"seq"`
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
}

// ActivityResponse is one page of the activity view.
type ActivityResponse struct {
	Lines []ActivityLine `json:"lines"`
	Next  uint64         `json:"next"`
}

// Failure is an upload that could not be stored.
type Failure struct {
	ID               int64  `json:"id"`
	SessionID        string `json:"sessionId,omitempty"`
	OriginalFilename string `json:"originalFilename"`
	Device           string `json:"device"`
	Channel          string `json:"channel"`
	RootDir          string `json:"rootDir"`
	TempPath         string `json:"tempPath"`
	ErrorMessage     string `json:"errorMessage"`
	ReceivedAt       string `json:"receivedAt"`
	Status           string `json:"status"`
	DestinationPath  string `json:"destinationPath,omitempty"`
	Attempts         int    `json:"attempts"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
}

// FailureListResponse wraps a collection of ledger entries.
type FailureListResponse struct {
	Failures []Failure `json:"failures"`
}

// FailureResponse wraps a single ledger entry.
type FailureResponse struct {
	Failure Failure `json:"failure"`
}
