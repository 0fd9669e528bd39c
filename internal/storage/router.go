// Package storage places received telemetry files into the durable layout
// root/<device>/<YYYYMMDD>/<channel>/<filename>.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"telegate/internal/fileutil"
	"telegate/internal/logging"
)

// DateLayout is the directory name format for the ingestion date.
const DateLayout = "20060102"

// Policy decides what happens when the destination already exists.
type Policy string

const (
	// PolicyOverwrite replaces the existing file.
	PolicyOverwrite Policy = "overwrite"
	// PolicySuffix keeps the existing file and stores the new one as name-N.ext.
	PolicySuffix Policy = "suffix"
)

const maxSuffixAttempts = 10000

// Router moves received files into the storage layout.
type Router struct {
	policy Policy
	logger *slog.Logger
	move   func(src, dst string) error

	// Serializes suffix allocation with the move that claims it.
	allocMu sync.Mutex
}

// NewRouter constructs a Router. An empty policy means PolicyOverwrite.
func NewRouter(policy Policy, logger *slog.Logger) *Router {
	if policy == "" {
		policy = PolicyOverwrite
	}
	return &Router{
		policy: policy,
		logger: logging.NewComponentLogger(logger, "storage"),
		move:   fileutil.MoveFile,
	}
}

// Policy returns the collision policy in effect.
func (r *Router) Policy() Policy {
	return r.policy
}

// Destination computes where a file would be stored. now is formatted in its
// own location, so callers pass local wall-clock time.
func Destination(root, device, channel, filename string, now time.Time) string {
	return filepath.Join(root, device, now.Format(DateLayout), channel, filename)
}

// Route creates the destination directory and moves source into it. On success
// the file exists at the returned path and no longer at source. On failure a
// *Error is returned and source is untouched.
func (r *Router) Route(root, device, channel, filename, source string, now time.Time) (string, error) {
	for _, part := range []string{device, channel, filename} {
		if err := checkElement(part); err != nil {
			return "", &Error{Op: OpValidate, Source: source, Err: err}
		}
	}
	if strings.TrimSpace(root) == "" {
		return "", &Error{Op: OpValidate, Source: source, Err: errors.New("empty storage root")}
	}

	dest := Destination(root, device, channel, filename, now)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", &Error{Op: OpMkdir, Source: source, Destination: dest, Err: err}
	}

	if r.policy == PolicySuffix {
		return r.routeWithSuffix(source, dest)
	}

	if info, err := os.Lstat(dest); err == nil && !info.IsDir() {
		logging.WarnWithContext(r.logger, "overwriting existing file", "storage_overwrite",
			logging.String("path", dest),
			logging.String(logging.FieldImpact, "previous file with the same name is replaced"),
			logging.String(logging.FieldErrorHint, "set storage.collision = \"suffix\" to keep both files"),
		)
	}
	if err := r.move(source, dest); err != nil {
		return "", &Error{Op: OpMove, Source: source, Destination: dest, Err: err}
	}
	return dest, nil
}

func (r *Router) routeWithSuffix(source, dest string) (string, error) {
	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	target, err := nextFreePath(dest)
	if err != nil {
		return "", &Error{Op: OpAllocate, Source: source, Destination: dest, Err: err}
	}
	if target != dest {
		r.logger.Info("destination exists; storing under new name",
			logging.String("path", dest),
			logging.String("stored_as", target),
			logging.String(logging.FieldEventType, "storage_collision"),
		)
	}
	if err := r.move(source, target); err != nil {
		return "", &Error{Op: OpMove, Source: source, Destination: target, Err: err}
	}
	return target, nil
}

// nextFreePath returns dest if it is free, otherwise the first free
// "name-N.ext" sibling.
func nextFreePath(dest string) (string, error) {
	if free, err := isFree(dest); err != nil || free {
		return dest, err
	}
	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for attempt := 1; attempt <= maxSuffixAttempts; attempt++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, attempt, ext))
		free, err := isFree(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", base, maxSuffixAttempts)
}

func isFree(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return false, err
}

func checkElement(part string) error {
	switch {
	case strings.TrimSpace(part) == "":
		return errors.New("empty path element")
	case part == "." || part == "..":
		return fmt.Errorf("path element %q is not allowed", part)
	case strings.ContainsAny(part, "/\\\x00"):
		return fmt.Errorf("path element %q contains a separator", part)
	}
	return nil
}
