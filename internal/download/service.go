package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"tubeget/internal/api"
	"tubeget/internal/logging"
	"tubeget/internal/registry"
	"tubeget/internal/services/ytdlp"
	"tubeget/internal/urlcheck"
)

// ErrStagingUnavailable indicates the staging directory cannot be created or
// accessed.
var ErrStagingUnavailable = errors.New("staging directory unavailable")

// Tool is the subset of the yt-dlp client the broker depends on.
type Tool interface {
	Probe(ctx context.Context, sourceURL, format string) (ytdlp.ProbeResult, error)
	Download(ctx context.Context, req ytdlp.DownloadRequest, handlers ytdlp.Handlers) ([]string, error)
}

// Request describes one incoming download job.
type Request struct {
	URL           string
	Format        string
	AllowPlaylist bool
	Debug         bool
}

// Event is one message destined for the client's event stream. Payload is
// one of the api payload structs matching Type.
type Event struct {
	Type    string
	Payload any
}

// Service brokers a job end to end: gate the URL, supervise the subprocess,
// stage produced files under one-time tokens, and emit typed events as the
// underlying triggers occur.
type Service struct {
	tool       Tool
	registry   *registry.Registry
	stagingDir string
	logger     *slog.Logger

	active atomic.Int64
}

// NewService wires the broker.
func NewService(tool Tool, reg *registry.Registry, stagingDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		tool:       tool,
		registry:   reg,
		stagingDir: stagingDir,
		logger:     logging.WithComponent(logger, "download"),
	}
}

// ActiveJobs reports the number of jobs currently running.
func (s *Service) ActiveJobs() int64 {
	return s.active.Load()
}

// Run executes one job, delivering non-terminal events through emit. The
// caller owns terminal framing: a nil return means success (send done), a
// non-nil return carries the failure (send error). The tool services its
// stdout and stderr pipes on separate goroutines, so emit may be called
// concurrently and must be safe for that.
func (s *Service) Run(ctx context.Context, req Request, emit func(Event)) error {
	parsed, err := urlcheck.Check(req.URL)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.stagingDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	logger := s.logger.With(
		logging.String(logging.FieldJobID, uuid.NewString()),
		logging.String("url", parsed.String()),
	)
	logger.Info("job started")

	// Advisory metadata probe. Playlists skip it: a per-entry dump would
	// delay the stream for the whole list.
	if req.AllowPlaylist {
		emit(Event{Type: api.EventInfo, Payload: api.InfoPayload{IsPlaylist: true}})
	} else {
		probe, err := s.tool.Probe(ctx, parsed.String(), req.Format)
		if err != nil {
			logger.Debug("metadata probe failed", logging.Args(logging.Error(err))...)
			emit(Event{Type: api.EventInfo, Payload: api.InfoPayload{}})
		} else {
			emit(Event{Type: api.EventInfo, Payload: api.InfoPayload{
				Title:      probe.Title,
				TotalBytes: probe.TotalBytes,
			}})
		}
	}

	handlers := ytdlp.Handlers{
		Progress: func(p ytdlp.Progress) {
			emit(Event{Type: api.EventProgress, Payload: api.ProgressPayload{
				Percent:         p.Percent,
				DownloadedBytes: p.DownloadedBytes,
				TotalBytes:      p.TotalBytes,
				Speed:           p.Speed,
				ETA:             p.ETA,
			}})
		},
		Destination: func(name string) {
			emit(Event{Type: api.EventInfo, Payload: api.InfoPayload{Title: name}})
		},
		File: func(path string) {
			payload, err := s.stage(path)
			if err != nil {
				logger.Warn("failed to stage produced file",
					logging.Args(logging.String("path", path), logging.Error(err))...)
				return
			}
			emit(Event{Type: api.EventFile, Payload: payload})
		},
	}
	if req.Debug {
		handlers.Log = func(line string) {
			emit(Event{Type: api.EventLog, Payload: api.LogPayload{Line: line}})
		}
	}

	paths, err := s.tool.Download(ctx, ytdlp.DownloadRequest{
		URL:           parsed.String(),
		Format:        req.Format,
		AllowPlaylist: req.AllowPlaylist,
	}, handlers)
	if err != nil {
		logger.Warn("job failed", logging.Args(logging.Error(err))...)
		return err
	}

	logger.Info("job finished", logging.Args(logging.Int("files", len(paths)))...)
	return nil
}

// RunSync executes one job and returns the download URL of the last
// produced file, for the non-streaming endpoint.
func (s *Service) RunSync(ctx context.Context, req Request) (string, error) {
	var downloadURL string
	err := s.Run(ctx, req, func(evt Event) {
		if evt.Type != api.EventFile {
			return
		}
		if payload, ok := evt.Payload.(api.FilePayload); ok {
			downloadURL = payload.DownloadURL
		}
	})
	if err != nil {
		return "", err
	}
	if downloadURL == "" {
		return "", ytdlp.ErrNoCompletion
	}
	return downloadURL, nil
}

// stage registers a produced file and builds its announcement payload. The
// registry entry and the on-disk file now live and die together: either the
// delivery handler consumes both, or the reaper removes both.
func (s *Service) stage(path string) (api.FilePayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return api.FilePayload{}, fmt.Errorf("stat produced file: %w", err)
	}
	filename := filepath.Base(path)
	token := s.registry.Put(registry.StagedFile{
		Path:      path,
		MIME:      mimeForPath(path),
		Filename:  filename,
		SizeBytes: info.Size(),
	})
	return api.FilePayload{
		DownloadURL: "/api/files/" + token,
		Filename:    filename,
		SizeBytes:   info.Size(),
	}, nil
}

func mimeForPath(path string) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// ErrorKind classifies a job failure for the error payload, letting clients
// distinguish "too slow" from "tool failed" from bad input.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, urlcheck.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, urlcheck.ErrDisallowedHost):
		return "disallowed_host"
	case errors.Is(err, ErrStagingUnavailable):
		return "staging_unavailable"
	case errors.Is(err, ytdlp.ErrTimeout):
		return "timeout"
	case errors.Is(err, ytdlp.ErrNoCompletion):
		return "missing_completion"
	case errors.Is(err, ytdlp.ErrToolFailure):
		return "tool_error"
	default:
		return "internal"
	}
}
