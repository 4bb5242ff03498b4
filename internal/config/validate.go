package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.HTTP.SendBufferSize < 1 {
		return errors.New("http.send_buffer_size must be >= 1")
	}
	if c.HTTP.KeepaliveInterval <= 0 {
		return errors.New("http.keepalive_interval must be > 0")
	}

	if c.Rooms.MaxKeyLength < 1 {
		return errors.New("rooms.max_key_length must be >= 1")
	}
	for key, partition := range c.Rooms.Keys {
		if key == "" {
			return errors.New("rooms.keys contains an empty key")
		}
		if partition == "" {
			return fmt.Errorf("rooms.keys[%s] has no partition", key)
		}
	}

	if c.Presence.SweepInterval <= 0 {
		return errors.New("presence.sweep_interval must be > 0")
	}
	// A healthy subscriber is only refreshed once per keepalive period.
	if c.Presence.InactivityTimeout <= c.HTTP.KeepaliveInterval {
		return fmt.Errorf("presence.inactivity_timeout (%s) must exceed http.keepalive_interval (%s)",
			c.Presence.InactivityTimeout, c.HTTP.KeepaliveInterval)
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Persister.BatchSize < 1 {
		return errors.New("persister.batch_size must be >= 1")
	}
	if c.Persister.BufferSize < 1 {
		return errors.New("persister.buffer_size must be >= 1")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DatabaseConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.PoolSize < 1 {
		return fmt.Errorf("%s.pool_size must be >= 1", prefix)
	}
	if db.MaxConnAge <= 0 {
		return fmt.Errorf("%s.max_conn_age must be > 0", prefix)
	}
	return nil
}

// ParseLevel maps a log.level string to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", level)
}
