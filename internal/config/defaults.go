package config

const (
	defaultStagingDir     = "~/.local/share/tubeget/staging"
	defaultBind           = "127.0.0.1:8080"
	defaultFormatSelector = "b[ext=mp4]/bv*[ext=mp4]+ba[ext=m4a]/b/bv*+ba"
	defaultTimeoutSeconds = 600
	defaultTTLMinutes     = 60
	defaultSweepMinutes   = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			Bind:       defaultBind,
		},
		YTDLP: YTDLP{
			Format:         defaultFormatSelector,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Registry: Registry{
			TTLMinutes:   defaultTTLMinutes,
			SweepMinutes: defaultSweepMinutes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
