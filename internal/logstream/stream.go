// Package logstream prints daemon logs for the CLI, preferring the HTTP log
// stream and falling back to tailing the log file over IPC.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"telegate/internal/api"
	"telegate/internal/ipc"
	"telegate/internal/logs"
)

// ErrFiltersRequireAPI reports that component or device filters were
// requested while only the IPC file tail is reachable.
var ErrFiltersRequireAPI = errors.New("log filters require API access")

const followBatch = 200

// TailClient captures the IPC log tail contract used for fallback streaming.
type TailClient interface {
	LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error)
}

// Filters narrows API log streaming.
type Filters struct {
	Component string
	Device    string
}

func (f Filters) empty() bool {
	return strings.TrimSpace(f.Component) == "" && strings.TrimSpace(f.Device) == ""
}

// Options controls stream behavior.
type Options struct {
	Lines   int
	Follow  bool
	Filters Filters
}

// Stream emits log events from the API when available, otherwise raw log
// lines from the IPC tail. It reports whether anything was emitted. A
// canceled context ends a follow stream without error.
func Stream(
	ctx context.Context,
	apiClient *logs.StreamClient,
	fallback TailClient,
	opts Options,
	onEvent func(api.LogEvent),
	onLine func(string),
) (bool, error) {
	printed, err := streamAPI(ctx, apiClient, opts, onEvent)
	if err == nil {
		return printed, nil
	}
	if !logs.IsAPIUnavailable(err) {
		return printed, err
	}
	if !opts.Filters.empty() {
		return false, fmt.Errorf("%w: %w", ErrFiltersRequireAPI, logs.ErrAPIUnavailable)
	}
	if fallback == nil {
		return false, logs.ErrAPIUnavailable
	}
	return streamTail(ctx, fallback, opts, onLine)
}

func streamAPI(ctx context.Context, client *logs.StreamClient, opts Options, onEvent func(api.LogEvent)) (bool, error) {
	query := logs.StreamQuery{
		Limit:     opts.Lines,
		Tail:      true,
		Component: opts.Filters.Component,
		Device:    opts.Filters.Device,
	}
	if query.Limit <= 0 {
		query.Limit = followBatch
	}

	printed := false
	for {
		resp, err := client.Fetch(ctx, query)
		if err != nil {
			if printed && ctx.Err() != nil {
				return printed, nil
			}
			return printed, err
		}
		for _, evt := range resp.Events {
			if onEvent != nil {
				onEvent(evt)
			}
			printed = true
		}
		if !opts.Follow {
			return printed, nil
		}
		query.Since = resp.Next
		query.Limit = followBatch
		query.Tail = false
		query.Follow = true
	}
}

func streamTail(ctx context.Context, client TailClient, opts Options, onLine func(string)) (bool, error) {
	req := ipc.LogTailRequest{
		Offset:     -1,
		Limit:      max(opts.Lines, 0),
		Follow:     opts.Follow,
		WaitMillis: 1000,
	}
	if req.Limit == 0 {
		req.Offset = 0
	}

	printed := false
	for {
		resp, err := client.LogTail(req)
		if err != nil {
			return printed, fmt.Errorf("tail logs: %w", err)
		}
		if resp == nil {
			return printed, errors.New("log tail response missing")
		}
		for _, line := range resp.Lines {
			if onLine != nil {
				onLine(line)
			}
			printed = true
		}
		if !opts.Follow {
			return printed, nil
		}
		req.Offset = resp.Offset
		req.Limit = 0
		select {
		case <-ctx.Done():
			return printed, nil
		default:
		}
	}
}
