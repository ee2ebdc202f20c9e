package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tubeget/internal/config"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing config file")
	}
	if cfg.YTDLP.Format == "" {
		t.Fatal("expected default format selector")
	}
	if cfg.YTDLP.TimeoutSeconds != 600 {
		t.Fatalf("expected default timeout 600, got %d", cfg.YTDLP.TimeoutSeconds)
	}
	if cfg.Registry.TTLMinutes != 60 || cfg.Registry.SweepMinutes != 10 {
		t.Fatalf("unexpected registry defaults: %+v", cfg.Registry)
	}
	if !filepath.IsAbs(cfg.Paths.StagingDir) {
		t.Fatalf("staging dir not absolute: %q", cfg.Paths.StagingDir)
	}
}

func TestLoadParsesFileAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
staging_dir = "` + filepath.Join(dir, "stage") + `"
bind = "127.0.0.1:9999"

[ytdlp]
path = "/opt/yt-dlp"
timeout_seconds = 30

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected resolved=%q exists=true, got %q %v", path, resolved, exists)
	}
	if cfg.Paths.Bind != "127.0.0.1:9999" {
		t.Fatalf("bind not parsed: %q", cfg.Paths.Bind)
	}
	if cfg.YTDLP.Path != "/opt/yt-dlp" || cfg.YTDLP.TimeoutSeconds != 30 {
		t.Fatalf("ytdlp section not parsed: %+v", cfg.YTDLP)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level not parsed: %q", cfg.Logging.Level)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOWNLOAD_DIR", filepath.Join(dir, "env-stage"))
	t.Setenv("YTDLP_PATH", "/usr/local/bin/yt-dlp")
	t.Setenv("YTDLP_PY", "/usr/bin/python3")

	cfg, _, _, err := config.Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.StagingDir != filepath.Join(dir, "env-stage") {
		t.Fatalf("DOWNLOAD_DIR override not applied: %q", cfg.Paths.StagingDir)
	}
	if cfg.YTDLP.Path != "/usr/local/bin/yt-dlp" {
		t.Fatalf("YTDLP_PATH override not applied: %q", cfg.YTDLP.Path)
	}
	if cfg.YTDLP.Python != "/usr/bin/python3" {
		t.Fatalf("YTDLP_PY override not applied: %q", cfg.YTDLP.Python)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.Registry.SweepMinutes = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative sweep interval")
	}

	cfg = config.Default()
	cfg.Logging.Format = "yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := os.WriteFile(path, []byte(config.SampleConfig()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !strings.Contains(cfg.YTDLP.Format, "mp4") {
		t.Fatalf("unexpected sample format: %q", cfg.YTDLP.Format)
	}
}
