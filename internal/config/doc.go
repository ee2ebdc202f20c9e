// Package config loads, normalizes and validates the TOML configuration
// file driving the tubeget server, applying environment overrides for the
// staging directory and the yt-dlp invocation mode.
package config
