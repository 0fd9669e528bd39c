package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	RootDir  string `toml:"root_dir"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// FTPUser is one login accepted by the FTP listener. Either Password or
// PasswordHash (bcrypt) must be set.
type FTPUser struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordHash string `toml:"password_hash"`
	RootDir      string `toml:"root_dir"`
	Permissions  string `toml:"permissions"`
}

// FTP contains listener settings for the upload server.
type FTP struct {
	ListenHost       string    `toml:"listen_host"`
	Port             int       `toml:"port"`
	PassivePortStart int       `toml:"passive_port_start"`
	PassivePortEnd   int       `toml:"passive_port_end"`
	PublicHost       string    `toml:"public_host"`
	Banner           string    `toml:"banner"`
	IdleTimeout      int       `toml:"idle_timeout"`
	Users            []FTPUser `toml:"users"`
}

// Devices lists the instrument labels expected in upload filenames.
type Devices struct {
	Names []string `toml:"names"`
}

// Liveness contains device activity timing.
type Liveness struct {
	StaleThresholdSeconds int `toml:"stale_threshold_seconds"`
	DebounceMS            int `toml:"debounce_ms"`
	SweepIntervalMS       int `toml:"sweep_interval_ms"`
}

// Storage contains routing policy for received files.
type Storage struct {
	Collision string `toml:"collision"`
}

// Events sizes the event bridge and the monitor log history.
type Events struct {
	QueueSize  int `toml:"queue_size"`
	LogHistory int `toml:"log_history"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Stale          bool   `toml:"stale"`
	Failures       bool   `toml:"failures"`
	Server         bool   `toml:"server"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for telegate.
//
// Configuration sections by subsystem:
//   - Paths: storage root, logs, daemon state and API bind address
//   - FTP: listener, passive range and accepted users
//   - Devices: known device labels for filename classification
//   - Liveness: stale threshold, debounce window and sweep cadence
//   - Storage: filename collision policy
//   - Events: event queue capacity and monitor log history
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	AutoStart     bool          `toml:"auto_start"`
	Paths         Paths         `toml:"paths"`
	FTP           FTP           `toml:"ftp"`
	Devices       Devices       `toml:"devices"`
	Liveness      Liveness      `toml:"liveness"`
	Storage       Storage       `toml:"storage"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("telegate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// User roots are created on a best-effort basis; preflight reports the ones
// that remain unusable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RootDir, c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, user := range c.FTP.Users {
		if user.RootDir != "" && user.RootDir != c.Paths.RootDir {
			_ = os.MkdirAll(user.RootDir, 0o755)
		}
	}
	return nil
}

// ListenAddr returns the host:port the FTP listener binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.FTP.ListenHost, strconv.Itoa(c.FTP.Port))
}

// StaleThreshold is the silence tolerated before a device is flagged stale.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Liveness.StaleThresholdSeconds) * time.Second
}

// DebounceWindow is how long a device stays Active after an upload.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Liveness.DebounceMS) * time.Millisecond
}

// SweepInterval is the staleness sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Liveness.SweepIntervalMS) * time.Millisecond
}

// LedgerPath is the sqlite database holding failed ingestions.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "failures.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "telegate.lock")
}

// SocketPath is the daemon IPC socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "telegate.sock")
}

// PIDPath records the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "telegate.pid")
}

// LogFilePath is the active daemon log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "telegate.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print: passwords are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Devices.Names = append([]string(nil), c.Devices.Names...)
	if out.Paths.APIToken != "" {
		out.Paths.APIToken = "********"
	}
	out.FTP.Users = make([]FTPUser, len(c.FTP.Users))
	for i, user := range c.FTP.Users {
		if user.Password != "" {
			user.Password = "********"
		}
		out.FTP.Users[i] = user
	}
	return out
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
