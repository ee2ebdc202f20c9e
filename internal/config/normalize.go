package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	c.Paths.Bind = strings.TrimSpace(c.Paths.Bind)
	if c.Paths.Bind == "" {
		c.Paths.Bind = defaultBind
	}

	c.YTDLP.Path = strings.TrimSpace(c.YTDLP.Path)
	c.YTDLP.Python = strings.TrimSpace(c.YTDLP.Python)
	c.YTDLP.Format = strings.TrimSpace(c.YTDLP.Format)
	if c.YTDLP.Format == "" {
		c.YTDLP.Format = defaultFormatSelector
	}
	if c.YTDLP.TimeoutSeconds == 0 {
		c.YTDLP.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Registry.TTLMinutes == 0 {
		c.Registry.TTLMinutes = defaultTTLMinutes
	}
	if c.Registry.SweepMinutes == 0 {
		c.Registry.SweepMinutes = defaultSweepMinutes
	}

	c.Logging.Format = strings.TrimSpace(c.Logging.Format)
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.TrimSpace(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}
