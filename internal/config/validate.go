package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.Bind) == "" {
		return errors.New("paths.bind must be set")
	}
	if c.YTDLP.TimeoutSeconds < 0 {
		return fmt.Errorf("ytdlp.timeout_seconds must not be negative, got %d", c.YTDLP.TimeoutSeconds)
	}
	if c.Registry.TTLMinutes < 0 {
		return fmt.Errorf("registry.ttl_minutes must not be negative, got %d", c.Registry.TTLMinutes)
	}
	if c.Registry.SweepMinutes <= 0 {
		return fmt.Errorf("registry.sweep_minutes must be positive, got %d", c.Registry.SweepMinutes)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
