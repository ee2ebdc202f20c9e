package api

import "time"

// Event type names used on the SSE stream.
const (
	EventInfo     = "info"
	EventProgress = "progress"
	EventFile     = "file"
	EventLog      = "log"
	EventDone     = "done"
	EventError    = "error"
)

// InfoPayload carries advisory metadata about the job.
type InfoPayload struct {
	Title      string `json:"title,omitempty"`
	TotalBytes int64  `json:"totalBytes,omitempty"`
	IsPlaylist bool   `json:"isPlaylist,omitempty"`
	EntryCount int    `json:"entryCount,omitempty"`
}

// ProgressPayload mirrors one parsed progress line.
type ProgressPayload struct {
	Percent         float64 `json:"percent"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	Speed           string  `json:"speed,omitempty"`
	ETA             string  `json:"eta,omitempty"`
}

// FilePayload announces one completed file and the token URL to fetch it.
type FilePayload struct {
	DownloadURL string `json:"downloadUrl"`
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// LogPayload forwards a raw subprocess line in debug mode.
type LogPayload struct {
	Line string `json:"line"`
}

// DonePayload is the terminal success event.
type DonePayload struct {
	OK bool `json:"ok"`
}

// ErrorPayload is the terminal failure event.
type ErrorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// DownloadRequest is the body of the synchronous download endpoint.
type DownloadRequest struct {
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
}

// DownloadResponse is the reply of the synchronous download endpoint.
type DownloadResponse struct {
	OK          bool   `json:"ok"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StagedFileInfo describes one live registry entry for status reporting.
type StagedFileInfo struct {
	Token     string    `json:"token"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusResponse is the reply of the status endpoint, consumed by the CLI.
type StatusResponse struct {
	Running    bool             `json:"running"`
	PID        int              `json:"pid"`
	StagingDir string           `json:"stagingDir"`
	ActiveJobs int64            `json:"activeJobs"`
	Staged     []StagedFileInfo `json:"staged"`
}
