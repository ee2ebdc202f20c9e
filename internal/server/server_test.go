package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tubeget/internal/api"
	"tubeget/internal/config"
	"tubeget/internal/download"
	"tubeget/internal/registry"
	"tubeget/internal/services/ytdlp"
)

type stubTool struct {
	probe       ytdlp.ProbeResult
	probeErr    error
	files       []string
	downloadErr error
	progress    []ytdlp.Progress
}

func (t *stubTool) Probe(ctx context.Context, sourceURL, format string) (ytdlp.ProbeResult, error) {
	return t.probe, t.probeErr
}

func (t *stubTool) Download(ctx context.Context, req ytdlp.DownloadRequest, handlers ytdlp.Handlers) ([]string, error) {
	for _, p := range t.progress {
		if handlers.Progress != nil {
			handlers.Progress(p)
		}
	}
	for _, path := range t.files {
		if handlers.File != nil {
			handlers.File(path)
		}
	}
	return t.files, t.downloadErr
}

func newTestServer(t *testing.T, tool download.Tool) (*Server, *registry.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	reg := registry.New(nil, registry.Options{})
	svc := download.NewService(tool, reg, cfg.Paths.StagingDir, nil)
	srv := New(&cfg, svc, reg, nil)
	t.Cleanup(srv.Stop)
	return srv, reg
}

func writeStagedFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	return path
}

func TestStreamEmitsEventSequence(t *testing.T) {
	staging := t.TempDir()
	produced := writeStagedFile(t, staging, "clip.mp4", "video-bytes")

	tool := &stubTool{
		probe:    ytdlp.ProbeResult{Title: "Test Clip", TotalBytes: 11},
		files:    []string{produced},
		progress: []ytdlp.Progress{{Percent: 100, DownloadedBytes: 11, TotalBytes: 11, Speed: "1.00MiB/s", ETA: "00:00"}},
	}
	srv, _ := newTestServer(t, tool)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/download/stream?url=" + "https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3Dabc123")
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	stream := string(body)

	for _, event := range []string{"event:info", "event:progress", "event:file", "event:done"} {
		if !strings.Contains(stream, event) {
			t.Errorf("stream missing %q:\n%s", event, stream)
		}
	}
	if !strings.Contains(stream, "Test Clip") {
		t.Errorf("stream missing probe title:\n%s", stream)
	}
	if !strings.Contains(stream, "/api/files/") {
		t.Errorf("stream missing download URL:\n%s", stream)
	}
	if idx := strings.Index(stream, "event:done"); idx == -1 || strings.Contains(stream[idx:], "event:file") {
		t.Errorf("done must be the terminal event:\n%s", stream)
	}
}

func TestStreamRejectsDisallowedHost(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/download/stream?url=" + "https%3A%2F%2Fexample.com%2Fvideo")
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	stream := string(body)
	if !strings.Contains(stream, "event:error") {
		t.Fatalf("expected error event:\n%s", stream)
	}
	if !strings.Contains(stream, "disallowed_host") {
		t.Errorf("error payload missing kind:\n%s", stream)
	}
	if strings.Contains(stream, "event:done") {
		t.Errorf("error stream must not also send done:\n%s", stream)
	}
}

func TestStreamRequiresURL(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/download/stream", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFilesDeliversOnceAndRemoves(t *testing.T) {
	srv, reg := newTestServer(t, &stubTool{})
	path := writeStagedFile(t, t.TempDir(), "song.m4a", "audio-bytes")
	token := reg.Put(registry.StagedFile{Path: path, Filename: "song.m4a", SizeBytes: 11})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/files/" + token)
	if err != nil {
		t.Fatalf("delivery request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "audio-bytes" {
		t.Fatalf("body = %q", body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="song.m4a"`) {
		t.Errorf("content disposition = %q", cd)
	}
	if resp.Header.Get("Content-Length") != "11" {
		t.Errorf("content length = %q", resp.Header.Get("Content-Length"))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("delivered file should be removed, stat err = %v", err)
	}

	// Second claim of the same token.
	resp2, err := http.Get(ts.URL + "/api/files/" + token)
	if err != nil {
		t.Fatalf("second delivery request: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusGone {
		t.Fatalf("second status = %d, want 410", resp2.StatusCode)
	}
}

func TestFilesUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/files/no-such-token", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStopConcurrentWithContextCancel(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})
	srv.bind = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Mirrors the serve command: the context watcher and a deferred Stop
	// both race to shut down.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.Stop()
		}()
	}
	cancel()
	wg.Wait()
	srv.Stop()
}

func TestFilesRemovesUnreadableBackingFile(t *testing.T) {
	srv, reg := newTestServer(t, &stubTool{})

	// A self-referencing symlink makes open fail while the path entry
	// still exists and is removable.
	path := filepath.Join(t.TempDir(), "loop.mp4")
	if err := os.Symlink(path, path); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	token := reg.Put(registry.StagedFile{Path: path, Filename: "loop.mp4"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/files/"+token, nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Errorf("unreadable staged file should be removed, lstat err = %v", err)
	}
}

func TestFilesMissingBackingFile(t *testing.T) {
	srv, reg := newTestServer(t, &stubTool{})
	token := reg.Put(registry.StagedFile{Path: filepath.Join(t.TempDir(), "vanished.mp4")})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/files/"+token, nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
}

func TestStatusReportsStagedFiles(t *testing.T) {
	srv, reg := newTestServer(t, &stubTool{})
	reg.Put(registry.StagedFile{Path: "/tmp/a.mp4", Filename: "a.mp4", SizeBytes: 42})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status api.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Error("running should be true")
	}
	if status.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", status.PID, os.Getpid())
	}
	if len(status.Staged) != 1 || status.Staged[0].Filename != "a.mp4" {
		t.Errorf("staged = %+v", status.Staged)
	}
}

func TestDownloadSync(t *testing.T) {
	staging := t.TempDir()
	produced := writeStagedFile(t, staging, "clip.mp4", "x")
	srv, _ := newTestServer(t, &stubTool{files: []string{produced}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/download",
		strings.NewReader(`{"url":"https://youtu.be/abc123"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp api.DownloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || !strings.HasPrefix(resp.DownloadURL, "/api/files/") {
		t.Errorf("response = %+v", resp)
	}
}

func TestDownloadSyncRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/download", strings.NewReader("{not json"))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDownloadSyncMapsErrorKinds(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{downloadErr: ytdlp.ErrTimeout})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/download",
		strings.NewReader(`{"url":"https://youtu.be/abc123"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestIndexServesPage(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "EventSource") {
		t.Error("page missing event stream wiring")
	}
}

func TestMetricsCountRejectedSubmissions(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/download/stream?url=https%3A%2F%2Fexample.com%2Fv", nil)
	srv.Handler().ServeHTTP(rec, req)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "tubeget_jobs_started_total 1") {
		t.Errorf("rejected submission not counted as started:\n%s", body)
	}
	if !strings.Contains(body, `tubeget_jobs_failed_total{kind="disallowed_host"} 1`) {
		t.Errorf("rejected submission not counted as failed:\n%s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubTool{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tubeget_staged_files") {
		t.Error("metrics output missing staged files gauge")
	}
}
