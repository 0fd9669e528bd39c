package preflight

import (
	"context"

	"telegate/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Options adjusts RunAll for the caller's situation.
type Options struct {
	// SkipPorts is set when the daemon is already running and holds the
	// FTP ports itself.
	SkipPorts bool
	// MinFreeBytes fails the free-space check below this threshold.
	MinFreeBytes uint64
}

// DefaultMinFreeBytes is the free-space floor used when Options leaves it zero.
const DefaultMinFreeBytes = 512 << 20

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}
	if opts.MinFreeBytes == 0 {
		opts.MinFreeBytes = DefaultMinFreeBytes
	}

	results := []Result{
		CheckDirectoryAccess("Storage root", cfg.Paths.RootDir),
		CheckFreeSpace("Storage free space", cfg.Paths.RootDir, opts.MinFreeBytes),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}

	seen := map[string]bool{cfg.Paths.RootDir: true}
	for _, user := range cfg.FTP.Users {
		if user.RootDir == "" || seen[user.RootDir] {
			continue
		}
		seen[user.RootDir] = true
		results = append(results, CheckDirectoryAccess("Root of "+user.Username, user.RootDir))
	}

	if !opts.SkipPorts {
		results = append(results,
			CheckPortAvailable("FTP control port", cfg.FTP.ListenHost, cfg.FTP.Port),
			CheckPassiveRange("FTP passive ports", cfg.FTP.ListenHost, cfg.FTP.PassivePortStart, cfg.FTP.PassivePortEnd),
		)
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns only the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
