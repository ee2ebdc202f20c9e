package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	Bind       string `toml:"bind"`
}

// YTDLP controls how the external downloader is invoked. Exactly one
// invocation form is chosen at load time: Python interpreter plus
// `-m yt_dlp` when Python is set, else the explicit Path, else the bare
// `yt-dlp` command resolved through PATH.
type YTDLP struct {
	Path           string `toml:"path"`
	Python         string `toml:"python"`
	Format         string `toml:"format"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Registry contains staged-file retention settings.
type Registry struct {
	TTLMinutes   int `toml:"ttl_minutes"`
	SweepMinutes int `toml:"sweep_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tubeget.
type Config struct {
	Paths    Paths    `toml:"paths"`
	YTDLP    YTDLP    `toml:"ytdlp"`
	Registry Registry `toml:"registry"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tubeget/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// overrides (DOWNLOAD_DIR, YTDLP_PATH, YTDLP_PY) are applied after the file
// is read; they are consulted once here and nowhere else. The returned
// config has all path fields expanded and normalized.
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
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("DOWNLOAD_DIR")); value != "" {
		c.Paths.StagingDir = value
	}
	if value := strings.TrimSpace(os.Getenv("YTDLP_PATH")); value != "" {
		c.YTDLP.Path = value
	}
	if value := strings.TrimSpace(os.Getenv("YTDLP_PY")); value != "" {
		c.YTDLP.Python = value
	}
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

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tubeget.toml")
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

// EnsureStagingDir creates the staging directory if it does not exist.
func (c *Config) EnsureStagingDir() error {
	if err := os.MkdirAll(c.Paths.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory %q: %w", c.Paths.StagingDir, err)
	}
	return nil
}

// SampleConfig returns the embedded annotated sample configuration file.
func SampleConfig() string {
	return sampleConfig
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
