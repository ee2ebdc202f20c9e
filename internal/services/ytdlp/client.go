package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tubeget/internal/config"
)

// ErrTimeout indicates the subprocess exceeded its wall-clock budget and was killed.
var ErrTimeout = errors.New("yt-dlp timed out")

// ErrToolFailure indicates the subprocess exited non-zero.
var ErrToolFailure = errors.New("yt-dlp failed")

// ErrNoCompletion indicates a zero exit without any produced-file signal.
var ErrNoCompletion = errors.New("yt-dlp reported no completed file")

// maxStderrTail bounds the diagnostic text retained from a failing run.
const maxStderrTail = 8 << 10

// Invocation is the resolved command form for running yt-dlp.
type Invocation struct {
	Binary     string
	ArgsPrefix []string
}

// ResolveInvocation picks the invocation form from configuration, decided
// once per process start: a Python interpreter running the yt_dlp module,
// else an explicit executable path, else the bare command on PATH.
func ResolveInvocation(cfg config.YTDLP) Invocation {
	if cfg.Python != "" {
		return Invocation{Binary: cfg.Python, ArgsPrefix: []string{"-m", "yt_dlp"}}
	}
	if cfg.Path != "" {
		return Invocation{Binary: cfg.Path}
	}
	return Invocation{Binary: "yt-dlp"}
}

// Executor abstracts command execution for testability. Stdout and stderr
// receive the subprocess output as it is produced, in arbitrarily-sized
// chunks.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, stdout, stderr io.Writer) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client supervises yt-dlp subprocess runs.
type Client struct {
	inv        Invocation
	stagingDir string
	format     string
	timeout    time.Duration
	exec       Executor
}

// New constructs a client. stagingDir is where output templates point;
// format is the default selector used when a request carries none.
func New(inv Invocation, stagingDir, format string, timeoutSeconds int) (*Client, error) {
	if strings.TrimSpace(inv.Binary) == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	if strings.TrimSpace(stagingDir) == "" {
		return nil, errors.New("staging directory required")
	}
	return &Client{
		inv:        inv,
		stagingDir: stagingDir,
		format:     format,
		timeout:    time.Duration(timeoutSeconds) * time.Second,
		exec:       commandExecutor{},
	}, nil
}

// NewWithOptions is New plus functional options.
func NewWithOptions(inv Invocation, stagingDir, format string, timeoutSeconds int, opts ...Option) (*Client, error) {
	client, err := New(inv, stagingDir, format, timeoutSeconds)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// DownloadRequest describes one job.
type DownloadRequest struct {
	URL           string
	Format        string
	AllowPlaylist bool
}

// Handlers receive structured output while a download runs. All fields are
// optional.
type Handlers struct {
	Progress    func(Progress)
	Destination func(name string)
	File        func(path string)
	Log         func(line string)
}

// ProbeResult carries advisory metadata gathered before a download.
type ProbeResult struct {
	Title      string
	TotalBytes int64
}

type probeFormat struct {
	Filesize       int64 `json:"filesize"`
	FilesizeApprox int64 `json:"filesize_approx"`
}

type probeDump struct {
	Title            string        `json:"title"`
	Filesize         int64         `json:"filesize"`
	FilesizeApprox   int64         `json:"filesize_approx"`
	RequestedFormats []probeFormat `json:"requested_formats"`
}

// Probe runs yt-dlp in simulate mode to learn the title and expected size.
// Failures are returned but callers treat the result as advisory only.
func (c *Client) Probe(ctx context.Context, sourceURL, format string) (ProbeResult, error) {
	if format == "" {
		format = c.format
	}
	args := append([]string{}, c.inv.ArgsPrefix...)
	args = append(args,
		"-f", format,
		"--simulate",
		"--dump-json",
		"--no-warnings",
		"--no-playlist",
		sourceURL,
	)

	var stdout, stderr bytes.Buffer
	if err := c.exec.Run(ctx, c.inv.Binary, args, &stdout, &stderr); err != nil {
		return ProbeResult{}, fmt.Errorf("probe: %w", err)
	}

	var dump probeDump
	if err := json.Unmarshal(stdout.Bytes(), &dump); err != nil {
		return ProbeResult{}, fmt.Errorf("probe: decode metadata: %w", err)
	}

	result := ProbeResult{Title: dump.Title}
	if len(dump.RequestedFormats) > 0 {
		for _, f := range dump.RequestedFormats {
			if f.Filesize > 0 {
				result.TotalBytes += f.Filesize
			} else if f.FilesizeApprox > 0 {
				result.TotalBytes += f.FilesizeApprox
			}
		}
	} else if dump.Filesize > 0 {
		result.TotalBytes = dump.Filesize
	} else if dump.FilesizeApprox > 0 {
		result.TotalBytes = dump.FilesizeApprox
	}
	return result, nil
}

// Download runs yt-dlp for one job and returns the absolute paths of all
// produced files. Paths are also delivered through handlers.File as each
// completion line arrives, which is what keeps the playlist case streaming.
func (c *Client) Download(ctx context.Context, req DownloadRequest, handlers Handlers) ([]string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, errors.New("source url required")
	}
	format := req.Format
	if format == "" {
		format = c.format
	}

	// The job id embedded in the output template keeps concurrent jobs from
	// colliding in the shared staging directory.
	jobID := uuid.NewString()
	outTpl := filepath.Join(c.stagingDir, jobID+".%(ext)s")

	args := append([]string{}, c.inv.ArgsPrefix...)
	args = append(args,
		"-f", format,
		"--remux-video", "mp4",
		"--restrict-filenames",
		"--newline",
	)
	if !req.AllowPlaylist {
		args = append(args, "--no-playlist")
	}
	args = append(args,
		"--print", "after_move:filepath",
		"-o", outTpl,
		req.URL,
	)

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var paths []string
	stdout := newLineWriter(func(line string) {
		if handlers.Log != nil {
			handlers.Log(line)
		}
		if !filepath.IsAbs(line) {
			return
		}
		paths = append(paths, line)
		if handlers.File != nil {
			handlers.File(line)
		}
	})

	parser := NewProgressParser(handlers.Progress, handlers.Destination, handlers.Log)
	tail := newTailBuffer(maxStderrTail)

	runErr := c.exec.Run(runCtx, c.inv.Binary, args, stdout, io.MultiWriter(parser, tail))
	stdout.Flush()
	parser.Flush()

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		detail := strings.TrimSpace(tail.String())
		if detail == "" {
			detail = runErr.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrToolFailure, detail)
	}

	if len(paths) == 0 {
		// Deprecated fallback: guess the outputs by job id prefix. Unsound
		// when yt-dlp and a sibling job race in the same directory, so the
		// completion print above stays authoritative.
		paths = c.scanStaging(jobID)
	}
	if len(paths) == 0 {
		return nil, ErrNoCompletion
	}
	return paths, nil
}

func (c *Client) scanStaging(jobID string) []string {
	entries, err := os.ReadDir(c.stagingDir)
	if err != nil {
		return nil
	}
	var found []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), jobID+".") {
			found = append(found, filepath.Join(c.stagingDir, entry.Name()))
		}
	}
	return found
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(stdout, outPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(stderr, errPipe)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

// tailBuffer keeps the last capacity bytes written to it.
type tailBuffer struct {
	capacity int
	buf      []byte
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{capacity: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.capacity {
		t.buf = t.buf[len(t.buf)-t.capacity:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// lineWriter splits a byte stream into trimmed non-empty lines, buffering
// partial lines between writes.
type lineWriter struct {
	onLine func(string)
	buf    []byte
}

func newLineWriter(onLine func(string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := strings.TrimSpace(string(w.buf[:idx]))
		w.buf = w.buf[idx+1:]
		if line != "" {
			w.onLine(line)
		}
	}
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	line := strings.TrimSpace(string(w.buf))
	w.buf = nil
	if line != "" {
		w.onLine(line)
	}
}
