package logs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	tailChunk    = 32 * 1024
	maxReadBytes = 4 * 1024 * 1024
	pollInterval = 200 * time.Millisecond
)

// TailOptions selects where reading starts. A negative Offset returns the
// last Limit lines; otherwise reading resumes at Offset. Follow with a
// positive Wait polls for new lines until Wait elapses.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries complete lines and the offset just past the last one.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads complete lines from path. A partially written trailing line is
// left for the next call. When the file shrank below Offset (rotation or
// truncation) reading restarts at the beginning.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Offset < 0 {
		lines, offset, err := lastLines(path, opts.Limit)
		if err != nil {
			return result, err
		}
		result = TailResult{Lines: lines, Offset: offset}
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			offset = 0
		}
		lines, next, err := linesFrom(path, offset, opts.Limit)
		if err != nil {
			return result, err
		}
		result = TailResult{Lines: lines, Offset: next}
	}

	if len(result.Lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return result, nil
	}
	return poll(ctx, path, result.Offset, opts.Limit, opts.Wait)
}

func poll(ctx context.Context, path string, offset int64, limit int, wait time.Duration) (TailResult, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-timer.C:
			return result, nil
		case <-ticker.C:
		}
		lines, next, err := linesFrom(path, result.Offset, limit)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
	}
}

// linesFrom reads complete lines starting at offset. A positive limit caps
// the number of lines returned; the offset then stops after the last one.
func linesFrom(path string, offset int64, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = 0
	}
	span := min(info.Size()-offset, maxReadBytes)
	if span <= 0 {
		return nil, offset, nil
	}

	buf := make([]byte, span)
	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, offset, fmt.Errorf("read log file: %w", err)
	}
	buf = buf[:n]

	var lines []string
	consumed := 0
	for limit <= 0 || len(lines) < limit {
		idx := bytes.IndexByte(buf[consumed:], '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(buf[consumed:consumed+idx], "\r")))
		consumed += idx + 1
	}
	return lines, offset + int64(consumed), nil
}

// lastLines walks the file backwards in chunks until it has limit complete
// lines. The returned offset is the end of the last complete line.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()

	var tail []byte
	pos := size
	end := int64(-1)
	for pos > 0 {
		step := min(int64(tailChunk), pos)
		pos -= step
		chunk := make([]byte, step)
		if _, err := file.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		tail = append(chunk, tail...)

		if end < 0 {
			if idx := bytes.LastIndexByte(tail, '\n'); idx >= 0 {
				end = pos + int64(idx) + 1
			}
		}
		if end >= 0 && (limit <= 0 || bytes.Count(tail[:end-pos], []byte{'\n'}) > limit) {
			break
		}
		if int64(len(tail)) > maxReadBytes {
			break
		}
	}
	if end < 0 {
		return nil, 0, nil
	}
	if limit <= 0 {
		return nil, end, nil
	}

	body := bytes.TrimSuffix(tail[:end-pos], []byte{'\n'})
	parts := bytes.Split(body, []byte{'\n'})
	if pos > 0 && len(parts) > 0 {
		// the first part may start mid-line
		parts = parts[1:]
	}
	if len(parts) > limit {
		parts = parts[len(parts)-limit:]
	}
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		lines = append(lines, string(bytes.TrimRight(p, "\r")))
	}
	return lines, end, nil
}
