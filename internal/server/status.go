package server

import (
	"encoding/json"
	"net/http"
	"os"

	"tubeget/internal/api"
	"tubeget/internal/download"
)

// handleStatus reports broker state for the CLI.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.Snapshot()
	staged := make([]api.StagedFileInfo, 0, len(entries))
	for _, entry := range entries {
		staged = append(staged, api.StagedFileInfo{
			Token:     entry.Token,
			Filename:  entry.File.Filename,
			SizeBytes: entry.File.SizeBytes,
			CreatedAt: entry.File.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Running:    true,
		PID:        os.Getpid(),
		StagingDir: s.stagingDir,
		ActiveJobs: s.svc.ActiveJobs(),
		Staged:     staged,
	})
}

// handleDownload is the non-streaming submission endpoint: it waits for the
// job to finish and replies with the token URL.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var body api.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, api.DownloadResponse{OK: false, Error: "invalid request body"})
		return
	}

	s.metrics.jobsStarted.Inc()
	downloadURL, err := s.svc.RunSync(s.jobCtx, download.Request{URL: body.URL, Format: body.Format})
	if err != nil {
		kind := download.ErrorKind(err)
		s.metrics.jobsFailed.WithLabelValues(kind).Inc()
		s.writeJSON(w, statusForKind(kind), api.DownloadResponse{OK: false, Error: errorMessage(err)})
		return
	}

	s.writeJSON(w, http.StatusOK, api.DownloadResponse{OK: true, DownloadURL: downloadURL})
}

func statusForKind(kind string) int {
	switch kind {
	case "invalid_url", "disallowed_host":
		return http.StatusBadRequest
	case "timeout":
		return http.StatusGatewayTimeout
	case "tool_error", "missing_completion":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
