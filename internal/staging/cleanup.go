// Package staging reclaims partially received uploads left behind in the
// per-root incoming directories.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"telegate/internal/logging"
)

// CleanResult contains the outcome of a staging cleanup pass.
type CleanResult struct {
	Removed []string
	Kept    int
	Errors  []CleanupError
}

// CleanupError pairs a file path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes staged files older than maxAge from each incoming
// directory. Paths in keep belong to open ledger failures and are never
// removed, regardless of age.
func CleanStale(ctx context.Context, dirs []string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	cutoff := time.Now().Add(-maxAge)

	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			}
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return result
			}
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if _, referenced := keep[path]; referenced {
				result.Kept++
				continue
			}
			info, err := entry.Info()
			if err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				continue
			}
			if !info.ModTime().Before(cutoff) {
				result.Kept++
				continue
			}

			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				if logger != nil {
					logging.WarnWithContext(logger, "failed to remove abandoned upload", "staging_cleanup_failed",
						logging.String("path", path),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "check permissions on the storage root"),
						logging.String(logging.FieldImpact, "disk space not reclaimed"),
					)
				}
				continue
			}
			result.Removed = append(result.Removed, path)
			if logger != nil {
				logger.Info("removed abandoned upload",
					logging.String("path", path),
					logging.Duration("age", time.Since(info.ModTime())),
					logging.Int64("bytes", info.Size()),
					logging.String(logging.FieldEventType, "staging_cleanup"),
				)
			}
		}
	}
	return result
}
