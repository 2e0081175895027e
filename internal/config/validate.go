package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("backend.api_url", c.Backend.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("backend.ws_url", c.Backend.WSURL, "ws", "wss"); err != nil {
		return err
	}

	if c.Connection.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be > 0")
	}
	if c.Connection.HeartbeatInterval <= 0 {
		return errors.New("connection.heartbeat_interval must be > 0")
	}
	for i, ch := range c.Connection.Channels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("connection.channels[%d] is empty", i)
		}
	}

	switch c.Backoff.Policy {
	case PolicyPlateau, PolicyBounded:
	default:
		return fmt.Errorf("backoff.policy must be plateau or bounded, got %q", c.Backoff.Policy)
	}
	if c.Backoff.Base <= 0 {
		return errors.New("backoff.base must be > 0")
	}
	if c.Backoff.Max < c.Backoff.Base {
		return fmt.Errorf("backoff.max (%v) cannot be less than backoff.base (%v)", c.Backoff.Max, c.Backoff.Base)
	}
	if c.Backoff.FastRetryThreshold < 0 {
		return errors.New("backoff.fast_retry_threshold must be >= 0")
	}
	if c.Backoff.MaxAttempts < 1 {
		return errors.New("backoff.max_attempts must be >= 1")
	}

	if c.Health.Interval <= 0 {
		return errors.New("health.interval must be > 0")
	}
	if c.Health.Timeout <= 0 || c.Health.Timeout >= c.Health.Interval {
		return fmt.Errorf("health.timeout (%v) must be > 0 and shorter than health.interval (%v)", c.Health.Timeout, c.Health.Interval)
	}

	if c.Host.Enabled && c.Host.Dir == "" && len(c.Host.ForceCleanupCommand) == 0 {
		return errors.New("host.dir or host.force_cleanup_command is required when host.enabled")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL, got %q", field, strings.Join(schemes, "/"), raw)
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
}
