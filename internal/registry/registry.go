package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tubeget/internal/logging"
)

// ErrNotFound indicates the token was never issued or has expired.
var ErrNotFound = errors.New("token not found")

// ErrGone indicates the token was valid but its file has already been
// delivered or removed.
var ErrGone = errors.New("file already delivered")

// StagedFile describes a produced artifact awaiting retrieval.
type StagedFile struct {
	Path      string
	MIME      string
	Filename  string
	SizeBytes int64
	CreatedAt time.Time
}

// Entry pairs a token with its staged file, for status reporting.
type Entry struct {
	Token string
	File  StagedFile
}

// Options controls retention behavior.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Registry maps one-time tokens to staged files. Tokens are consumed on
// first successful resolution; a background reaper evicts entries (and
// their backing files) that were never claimed within the TTL. Consumed
// tokens leave a tombstone for the TTL window so a repeat request can be
// distinguished from a token that never existed.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]StagedFile
	consumed map[string]time.Time

	ttl    time.Duration
	sweep  time.Duration
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a registry. Zero option fields fall back to a 1-hour TTL
// and a 10-minute sweep.
func New(logger *slog.Logger, opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		entries:  make(map[string]StagedFile),
		consumed: make(map[string]time.Time),
		ttl:      opts.TTL,
		sweep:    opts.SweepInterval,
		logger:   logging.WithComponent(logger, "registry"),
		now:      time.Now,
	}
}

// Put stores the staged file under a fresh unguessable token and returns it.
// Tokens are never reused.
func (r *Registry) Put(file StagedFile) string {
	token := uuid.NewString()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = r.now()
	}
	r.mu.Lock()
	r.entries[token] = file
	r.mu.Unlock()
	return token
}

// Consume resolves and removes the entry in one step, handing ownership of
// the backing file to the caller. The caller is responsible for deleting
// the file once it has been streamed (or streaming failed).
func (r *Registry) Consume(token string) (StagedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
		r.consumed[token] = r.now()
		return file, nil
	}
	if _, gone := r.consumed[token]; gone {
		return StagedFile{}, ErrGone
	}
	return StagedFile{}, ErrNotFound
}

// Len reports the number of live (unconsumed) entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the live entries ordered oldest first.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for token, file := range r.entries {
		out = append(out, Entry{Token: token, File: file})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].File.CreatedAt.Before(out[j].File.CreatedAt)
	})
	return out
}

// Start launches the background reaper. It stops when ctx is canceled or
// Close is called.
func (r *Registry) Start(ctx context.Context) {
	reapCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-reapCtx.Done():
				return
			case <-ticker.C:
				r.Reap()
			}
		}
	}()
}

// Close stops the reaper and waits for the in-flight sweep to finish.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel = nil
		r.done = nil
	}
}

// Reap evicts entries older than the TTL, deleting their backing files, and
// prunes tombstones past the same horizon. A backing file that is already
// gone is not an error; a file that exists but cannot be removed is logged
// and the entry is dropped anyway so it is not retried forever.
func (r *Registry) Reap() {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	for token, file := range r.entries {
		if !file.CreatedAt.Before(cutoff) {
			continue
		}
		delete(r.entries, token)
		if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to remove expired staged file",
				logging.Args(logging.String("path", file.Path), logging.Error(err))...)
			continue
		}
		r.logger.Info("evicted expired staged file",
			logging.Args(logging.String("path", file.Path), logging.Duration("age", r.now().Sub(file.CreatedAt)))...)
	}

	for token, when := range r.consumed {
		if when.Before(cutoff) {
			delete(r.consumed, token)
		}
	}
}
