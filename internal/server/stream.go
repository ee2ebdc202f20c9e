package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"

	"tubeget/internal/api"
	"tubeget/internal/download"
	"tubeget/internal/logging"
	"tubeget/internal/urlcheck"
)

// handleStream runs one job and relays its events as a server-sent event
// stream. Exactly one terminal event (done or error) closes the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sourceURL := query.Get("url")
	if strings.TrimSpace(sourceURL) == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req := download.Request{
		URL:           sourceURL,
		Format:        query.Get("format"),
		AllowPlaylist: boolParam(query.Get("playlist")),
		Debug:         boolParam(query.Get("debug")),
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.jobsStarted.Inc()

	events := make(chan download.Event, 16)
	result := make(chan error, 1)
	go func() {
		// The job deliberately runs under the server's lifetime, not the
		// request's: a dropped connection does not kill the subprocess.
		result <- s.svc.Run(s.jobCtx, req, func(evt download.Event) {
			events <- evt
		})
		close(events)
	}()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	clientGone := r.Context().Done()
	connected := true
	for {
		select {
		case evt, open := <-events:
			if !open {
				err := <-result
				if err != nil {
					s.metrics.jobsFailed.WithLabelValues(download.ErrorKind(err)).Inc()
				}
				if connected {
					s.writeTerminal(w, flusher, err)
				}
				return
			}
			if connected {
				s.writeEvent(w, flusher, evt.Type, evt.Payload)
			}
		case <-ticker.C:
			if connected {
				// SSE comment line; keeps intermediaries from timing out
				// the connection while the tool resolves metadata.
				if _, err := w.Write([]byte(": keep-alive\n\n")); err == nil {
					flusher.Flush()
				}
			}
		case <-clientGone:
			// Keep draining events so the job can finish; produced files
			// stay registered until the reaper collects them.
			connected = false
			clientGone = nil
			s.logger.Debug("stream client disconnected; job continues")
		}
	}
}

func (s *Server) writeTerminal(w http.ResponseWriter, flusher http.Flusher, err error) {
	if err == nil {
		s.writeEvent(w, flusher, api.EventDone, api.DonePayload{OK: true})
		return
	}
	s.writeEvent(w, flusher, api.EventError, api.ErrorPayload{
		Error: errorMessage(err),
		Kind:  download.ErrorKind(err),
	})
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	if err := sse.Encode(w, sse.Event{Event: event, Data: payload}); err != nil {
		s.logger.Debug("failed to write event", logging.Args(logging.String("event", event), logging.Error(err))...)
		return
	}
	flusher.Flush()
}

// errorMessage keeps client-visible failure text short while the full chain
// stays in the logs.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, urlcheck.ErrInvalidURL):
		return "invalid url"
	case errors.Is(err, urlcheck.ErrDisallowedHost):
		return "only known media hosts are allowed"
	default:
		return err.Error()
	}
}

func boolParam(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
