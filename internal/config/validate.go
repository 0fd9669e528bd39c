package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFTP(); err != nil {
		return err
	}
	if err := c.validateUsers(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateLiveness(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"events.queue_size":             c.Events.QueueSize,
		"events.log_history":            c.Events.LogHistory,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFTP() error {
	if c.FTP.Port < 1 || c.FTP.Port > 65535 {
		return fmt.Errorf("ftp.port must be between 1 and 65535, got %d", c.FTP.Port)
	}
	start, end := c.FTP.PassivePortStart, c.FTP.PassivePortEnd
	if start < 1 || end > 65535 || start > end {
		return fmt.Errorf("ftp.passive_port_start..passive_port_end must be a valid range, got %d-%d", start, end)
	}
	if c.FTP.Port >= start && c.FTP.Port <= end {
		return errors.New("ftp.port must not fall inside the passive port range")
	}
	return nil
}

func (c *Config) validateUsers() error {
	seen := make(map[string]struct{}, len(c.FTP.Users))
	for i, user := range c.FTP.Users {
		if user.Username == "" {
			return fmt.Errorf("ftp.users[%d].username must be set", i)
		}
		if _, dup := seen[user.Username]; dup {
			return fmt.Errorf("ftp.users[%d].username %q is duplicated", i, user.Username)
		}
		seen[user.Username] = struct{}{}
		if user.Password == "" && user.PasswordHash == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("ftp.users[%d] (%s) needs password or password_hash. Set %s or edit %s (create with 'telegate config init')",
				i, user.Username, PasswordEnv, defaultPath)
		}
		if user.Password != "" && user.PasswordHash != "" {
			return fmt.Errorf("ftp.users[%d]: set only one of password and password_hash", i)
		}
		if strings.Trim(user.Permissions, "elradfmwMT") != "" {
			return fmt.Errorf("ftp.users[%d].permissions contains unknown flags: %q", i, user.Permissions)
		}
	}
	return nil
}

func (c *Config) validateDevices() error {
	for _, name := range c.Devices.Names {
		if strings.ContainsAny(name, "[]/\\") || name == "." || name == ".." {
			return fmt.Errorf("devices.names: %q cannot be used as a directory label", name)
		}
	}
	return nil
}

func (c *Config) validateLiveness() error {
	if err := ensurePositiveMap(map[string]int{
		"liveness.stale_threshold_seconds": c.Liveness.StaleThresholdSeconds,
		"liveness.debounce_ms":             c.Liveness.DebounceMS,
		"liveness.sweep_interval_ms":       c.Liveness.SweepIntervalMS,
	}); err != nil {
		return err
	}
	if c.Liveness.SweepIntervalMS >= c.Liveness.StaleThresholdSeconds*1000 {
		return errors.New("liveness.sweep_interval_ms must be shorter than liveness.stale_threshold_seconds")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Collision {
	case CollisionOverwrite, CollisionSuffix:
		return nil
	default:
		return fmt.Errorf("storage.collision must be %q or %q, got %q", CollisionOverwrite, CollisionSuffix, c.Storage.Collision)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
