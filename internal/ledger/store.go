package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"telegate/internal/config"
	"telegate/internal/events"
)

// Router re-routes a failed upload. *storage.Router satisfies it.
type Router interface {
	Route(root, device, channel, filename, source string, now time.Time) (string, error)
}

// Store manages the failure ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the ledger database at cfg.LedgerPath().
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(cfg.LedgerPath())
}

// OpenPath opens a ledger database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Record inserts an open failure for a file left at file.SourcePath.
func (s *Store) Record(ctx context.Context, file events.IngestedFile, root string) (*Failure, error) {
	message := "unknown error"
	if file.Err != nil {
		message = file.Err.Error()
	}
	received := file.ReceivedAt
	if received.IsZero() {
		received = s.now()
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO failures (
            session_id, original_filename, device, channel, root_dir, temp_path,
            error_message, received_at, status, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(file.SessionID),
		file.OriginalFilename,
		file.Device,
		file.Channel,
		root,
		file.SourcePath,
		message,
		formatTime(received),
		StatusOpen,
		formatTime(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert failure: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// RecordFailure satisfies the ingest endpoint's failure recorder.
func (s *Store) RecordFailure(ctx context.Context, file events.IngestedFile, root string) error {
	_, err := s.Record(ctx, file, root)
	return err
}

// Get fetches one failure. A missing id returns nil, nil.
func (s *Store) Get(ctx context.Context, id int64) (*Failure, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+failureColumns+` FROM failures WHERE id = ?`, id)
	failure, err := scanFailure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failure: %w", err)
	}
	return failure, nil
}

// List returns failures newest first. Closed rows are included only when all
// is set.
func (s *Store) List(ctx context.Context, all bool) ([]*Failure, error) {
	query := `SELECT ` + failureColumns + ` FROM failures`
	args := []any{}
	if !all {
		query += ` WHERE status = ?`
		args = append(args, StatusOpen)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []*Failure
	for rows.Next() {
		failure, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, failure)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// OpenCount returns how many failures await action.
func (s *Store) OpenCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM failures WHERE status = ?`, StatusOpen).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return count, nil
}

// Resolve dismisses an open failure without moving its file.
func (s *Store) Resolve(ctx context.Context, id int64) (*Failure, error) {
	failure, err := s.openFailure(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE failures SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusResolved, formatTime(s.now()), id, StatusOpen,
	); err != nil {
		return nil, fmt.Errorf("resolve failure: %w", err)
	}
	return s.Get(ctx, failure.ID)
}

// Retry re-routes an open failure's file into its original date folder. On
// success the row is marked retried with its destination; on failure the
// attempt count and error message are updated and the routing error returned.
func (s *Store) Retry(ctx context.Context, id int64, router Router) (*Failure, error) {
	failure, err := s.openFailure(ctx, id)
	if err != nil {
		return nil, err
	}

	dest, routeErr := router.Route(
		failure.RootDir,
		failure.Device,
		failure.Channel,
		filepath.Base(failure.OriginalFilename),
		failure.TempPath,
		failure.ReceivedAt.In(time.Local),
	)
	now := formatTime(s.now())
	if routeErr != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE failures SET attempts = attempts + 1, error_message = ?, updated_at = ? WHERE id = ?`,
			routeErr.Error(), now, id,
		); err != nil {
			return nil, fmt.Errorf("record retry attempt: %w", err)
		}
		return nil, fmt.Errorf("retry failure %d: %w", id, routeErr)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE failures SET attempts = attempts + 1, status = ?, destination_path = ?, updated_at = ? WHERE id = ?`,
		StatusRetried, dest, now, id,
	); err != nil {
		return nil, fmt.Errorf("mark failure retried: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Store) openFailure(ctx context.Context, id int64) (*Failure, error) {
	failure, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if failure == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if !failure.IsOpen() {
		return nil, fmt.Errorf("%w: %d is %s", ErrNotOpen, id, failure.Status)
	}
	return failure, nil
}
