package config

const (
	defaultConfigPath            = "~/.config/telegate/config.toml"
	defaultRootDir               = "~/FTP_Data"
	defaultLogDir                = "~/.local/share/telegate/logs"
	defaultStateDir              = "~/.local/share/telegate"
	defaultAPIBind               = "127.0.0.1:7488"
	defaultLogRetentionDays      = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultFTPPort               = 2121
	defaultPassivePortStart      = 60000
	defaultPassivePortEnd        = 60010
	defaultBanner                = "telegate ready"
	defaultIdleTimeout           = 300
	defaultUsername              = "user"
	defaultPermissions           = "elradfmw"
	defaultStaleThresholdSeconds = 60
	defaultDebounceMS            = 500
	defaultSweepIntervalMS       = 1000
	defaultQueueSize             = 1024
	defaultLogHistory            = 1000
	defaultNotifyRequestTimeout  = 10

	// CollisionOverwrite replaces an existing file at the destination.
	CollisionOverwrite = "overwrite"
	// CollisionSuffix stores the new file as name-N.ext next to the existing one.
	CollisionSuffix = "suffix"

	// PasswordEnv supplies the default user's password when the config has none.
	PasswordEnv = "TELEGATE_FTP_PASSWORD"
)

// DefaultDeviceNames are the instruments shipped in the sample configuration.
var DefaultDeviceNames = []string{"Main FAN", "Rotary Motor", "Combustion FAN", "Purge FAN"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RootDir:  defaultRootDir,
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		FTP: FTP{
			Port:             defaultFTPPort,
			PassivePortStart: defaultPassivePortStart,
			PassivePortEnd:   defaultPassivePortEnd,
			Banner:           defaultBanner,
			IdleTimeout:      defaultIdleTimeout,
		},
		Devices: Devices{
			Names: append([]string(nil), DefaultDeviceNames...),
		},
		Liveness: Liveness{
			StaleThresholdSeconds: defaultStaleThresholdSeconds,
			DebounceMS:            defaultDebounceMS,
			SweepIntervalMS:       defaultSweepIntervalMS,
		},
		Storage: Storage{
			Collision: CollisionOverwrite,
		},
		Events: Events{
			QueueSize:  defaultQueueSize,
			LogHistory: defaultLogHistory,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Stale:          true,
			Failures:       true,
			Server:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
