package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tubeget/internal/logging"
	"tubeget/internal/registry"
)

// handleFiles streams a staged file under its one-time token and removes it
// afterwards. The token is consumed up front, so the registry entry and the
// file disappear together no matter how the transfer ends.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	entry, err := s.reg.Consume(token)
	switch {
	case errors.Is(err, registry.ErrGone):
		http.Error(w, "file already delivered", http.StatusGone)
		return
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, "link invalid or expired", http.StatusNotFound)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	file, err := os.Open(entry.Path)
	if err != nil {
		// The entry existed, so the token was real: the backing file went
		// missing or unreadable underneath it. Distinct from an unknown
		// token. The token is already consumed, so remove the file now;
		// nothing else will.
		s.logger.Warn("staged file unavailable at delivery",
			logging.Args(logging.String("path", entry.Path), logging.Error(err))...)
		if rmErr := os.Remove(entry.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove unreadable staged file",
				logging.Args(logging.String("path", entry.Path), logging.Error(rmErr))...)
		}
		http.Error(w, "file no longer available", http.StatusGone)
		return
	}
	defer file.Close()
	defer func() {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove delivered file",
				logging.Args(logging.String("path", entry.Path), logging.Error(err))...)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stat staged file")
		return
	}

	contentType := entry.MIME
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(entry.Path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := entry.Filename
	if filename == "" {
		filename = filepath.Base(entry.Path)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	written, err := io.Copy(w, file)
	if err != nil {
		// Client went away mid-transfer; the deferred remove still runs so
		// nothing is orphaned.
		s.logger.Debug("delivery aborted",
			logging.Args(logging.String("path", entry.Path), logging.Int64("written", written), logging.Error(err))...)
		return
	}

	s.metrics.filesServed.Inc()
	s.metrics.bytesServed.Add(float64(written))
	s.logger.Info("file delivered",
		logging.Args(logging.String("filename", filename), logging.Int64("bytes", written))...)
}
