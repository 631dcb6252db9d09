// Package watch reports source files that were created or modified under
// watched directories, once they have been quiet for a debounce period.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/docket/extract"
)

// DefaultDebounce is how long a file must stay unchanged before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors directories for supported source files.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	accept   func(path string) bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter replaces the file filter. The default accepts files the
// extractor supports.
func WithFilter(accept func(path string) bool) Option {
	return func(w *Watcher) {
		if accept != nil {
			w.accept = accept
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Watcher.
func New(opts ...Option) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fs,
		debounce: DefaultDebounce,
		accept:   extract.Supported,
		logger:   slog.Default(),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher")
	return w, nil
}

// Watch starts monitoring dirs and returns the channel of settled paths.
// The channel is closed when ctx ends or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, dirs ...string) (<-chan string, error) {
	for _, dir := range dirs {
		if err := w.fs.Add(dir); err != nil {
			return nil, err
		}
		w.logger.Info("watching directory", "dir", dir)
	}

	out := make(chan string, 64)
	go w.loop(ctx, out)
	return out, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) loop(ctx context.Context, out chan<- string) {
	defer close(out)
	ticker := time.NewTicker(max(w.debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.accept(event.Name) {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "err", err)
		case now := <-ticker.C:
			for _, path := range w.settled(now) {
				select {
				case out <- path:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// settled removes and returns the paths quiet since at least debounce before now.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var paths []string
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.debounce {
			paths = append(paths, path)
			delete(w.pending, path)
		}
	}
	return paths
}
