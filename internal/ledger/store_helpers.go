package ledger

import (
	"database/sql"
	"errors"
	"time"
)

const failureColumns = "id, session_id, original_filename, device, channel, root_dir, temp_path, error_message, received_at, status, destination_path, attempts, updated_at"

func scanFailure(scanner interface{ Scan(dest ...any) error }) (*Failure, error) {
	var (
		id          int64
		sessionID   sql.NullString
		filename    string
		device      string
		channel     string
		rootDir     string
		tempPath    string
		message     string
		receivedRaw string
		statusStr   string
		destination sql.NullString
		attempts    int
		updatedRaw  string
	)
	if err := scanner.Scan(
		&id,
		&sessionID,
		&filename,
		&device,
		&channel,
		&rootDir,
		&tempPath,
		&message,
		&receivedRaw,
		&statusStr,
		&destination,
		&attempts,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	failure := &Failure{
		ID:               id,
		SessionID:        sessionID.String,
		OriginalFilename: filename,
		Device:           device,
		Channel:          channel,
		RootDir:          rootDir,
		TempPath:         tempPath,
		ErrorMessage:     message,
		Status:           Status(statusStr),
		DestinationPath:  destination.String,
		Attempts:         attempts,
	}
	if received, err := parseTimeString(receivedRaw); err == nil {
		failure.ReceivedAt = received
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		failure.UpdatedAt = updated
	}
	return failure, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
