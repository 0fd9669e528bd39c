package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeFTP(); err != nil {
		return err
	}
	c.normalizeDevices()
	c.normalizeStorage()
	c.normalizeEvents()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RootDir) == "" {
		c.Paths.RootDir = defaultRootDir
	}
	if c.Paths.RootDir, err = expandPath(c.Paths.RootDir); err != nil {
		return fmt.Errorf("paths.root_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeFTP() error {
	c.FTP.ListenHost = strings.TrimSpace(c.FTP.ListenHost)
	c.FTP.PublicHost = strings.TrimSpace(c.FTP.PublicHost)
	c.FTP.Banner = strings.TrimSpace(c.FTP.Banner)
	if c.FTP.Banner == "" {
		c.FTP.Banner = defaultBanner
	}
	if c.FTP.IdleTimeout <= 0 {
		c.FTP.IdleTimeout = defaultIdleTimeout
	}

	if len(c.FTP.Users) == 0 {
		c.FTP.Users = []FTPUser{{Username: defaultUsername}}
	}
	for i := range c.FTP.Users {
		user := &c.FTP.Users[i]
		user.Username = strings.TrimSpace(user.Username)
		user.PasswordHash = strings.TrimSpace(user.PasswordHash)
		user.Permissions = strings.TrimSpace(user.Permissions)
		if user.Permissions == "" {
			user.Permissions = defaultPermissions
		}
		if i == 0 && user.Password == "" && user.PasswordHash == "" {
			if value, ok := os.LookupEnv(PasswordEnv); ok {
				user.Password = value
			}
		}
		if strings.TrimSpace(user.RootDir) == "" {
			user.RootDir = c.Paths.RootDir
			continue
		}
		expanded, err := expandPath(user.RootDir)
		if err != nil {
			return fmt.Errorf("ftp.users[%d].root_dir: %w", i, err)
		}
		user.RootDir = expanded
	}
	return nil
}

func (c *Config) normalizeDevices() {
	names := make([]string, 0, len(c.Devices.Names))
	seen := make(map[string]struct{}, len(c.Devices.Names))
	for _, name := range c.Devices.Names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		names = append(names, trimmed)
	}
	c.Devices.Names = names
}

func (c *Config) normalizeStorage() {
	c.Storage.Collision = strings.ToLower(strings.TrimSpace(c.Storage.Collision))
	if c.Storage.Collision == "" {
		c.Storage.Collision = CollisionOverwrite
	}
}

func (c *Config) normalizeEvents() {
	if c.Events.QueueSize <= 0 {
		c.Events.QueueSize = defaultQueueSize
	}
	if c.Events.LogHistory <= 0 {
		c.Events.LogHistory = defaultLogHistory
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("TELEGATE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
