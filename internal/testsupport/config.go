package testsupport

import (
	"path/filepath"
	"testing"

	"telegate/internal/config"
)

// TestPassword is the password of the user created by NewConfig.
const TestPassword = "secret"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RootDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.FTP.ListenHost = "127.0.0.1"
	cfgVal.FTP.PassivePortStart = 0
	cfgVal.FTP.PassivePortEnd = 0
	cfgVal.FTP.Users = []config.FTPUser{{
		Username:    "user",
		Password:    TestPassword,
		RootDir:     cfgVal.Paths.RootDir,
		Permissions: "elradfmw",
	}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDevices replaces the known device labels.
func WithDevices(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Devices.Names = append([]string(nil), names...)
	}
}

// WithCollision sets the storage collision policy.
func WithCollision(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Collision = policy
	}
}

// WithFTPPort sets the FTP control port.
func WithFTPPort(port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.FTP.Port = port
	}
}

// WithAutoStart enables starting the FTP server with the daemon.
func WithAutoStart() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.AutoStart = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RootDir)
}
