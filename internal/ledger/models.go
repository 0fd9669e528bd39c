package ledger

import "time"

// Status is the lifecycle state of a recorded failure.
type Status string

const (
	// StatusOpen failures still have their bytes at TempPath.
	StatusOpen Status = "open"
	// StatusResolved failures were dismissed by an operator.
	StatusResolved Status = "resolved"
	// StatusRetried failures were re-routed successfully.
	StatusRetried Status = "retried"
)

// Failure is one upload that could not be stored.
type Failure struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"session_id,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	Device           string    `json:"device"`
	Channel          string    `json:"channel"`
	RootDir          string    `json:"root_dir"`
	TempPath         string    `json:"temp_path"`
	ErrorMessage     string    `json:"error_message"`
	ReceivedAt       time.Time `json:"received_at"`
	Status           Status    `json:"status"`
	DestinationPath  string    `json:"destination_path,omitempty"`
	Attempts         int       `json:"attempts"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsOpen reports whether the failure still awaits operator action.
func (f *Failure) IsOpen() bool {
	return f != nil && f.Status == StatusOpen
}
