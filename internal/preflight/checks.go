package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace reports the space available to unprivileged writers on the
// filesystem holding path.
func CheckFreeSpace(name, path string, minFree uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s free", formatBytes(free))
	if free < minFree {
		return Result{Name: name, Detail: fmt.Sprintf("%s (below %s)", detail, formatBytes(minFree))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckPortAvailable verifies the TCP port can be bound right now.
func CheckPortAvailable(name, host string, port int) Result {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, unix.EADDRINUSE) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: already in use)", addr)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: addr + " (available)"}
}

// CheckPassiveRange binds both ends of the passive range. A zero range means
// the kernel picks data ports.
func CheckPassiveRange(name, host string, start, end int) Result {
	if start == 0 && end == 0 {
		return Result{Name: name, Passed: true, Detail: "ephemeral"}
	}
	span := fmt.Sprintf("%d-%d", start, end)
	if start < 1 || end > 65535 || start > end {
		return Result{Name: name, Detail: span + " (error: invalid range)"}
	}
	for _, port := range []int{start, end} {
		if r := CheckPortAvailable(name, host, port); !r.Passed {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: port %d unavailable)", span, port)}
		}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d ports)", span, end-start+1)}
}

// CheckNtfy verifies that the ntfy server behind topic answers HTTP. It does
// not publish anything.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy"

	topic = strings.TrimSpace(topic)
	u, err := url.Parse(topic)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: topic must be a full URL)", topic)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/v1/health"}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, health.String(), nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", u.Host, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{Name: name, Detail: fmt.Sprintf("%s health check failed (%d)", u.Host, resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: u.Host + " reachable"}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
