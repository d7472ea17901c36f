package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillctx/internal/logging"
)

const (
	defaultLoadTimeout = 5 * time.Second
	reloadDebounce     = 250 * time.Millisecond
)

// Registry serves the current Snapshot and reloads it on demand.
// It is safe for concurrent use.
type Registry struct {
	loader  Loader
	timeout time.Duration
	logger  *logging.Logger

	snap    atomic.Pointer[Snapshot]
	reloads atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoadTimeout bounds each load. Zero keeps the default.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a registry. Call Reload before serving.
func New(loader Loader, opts ...Option) *Registry {
	r := &Registry{
		loader:  loader,
		timeout: defaultLoadTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewStatic returns a registry already loaded with docs.
func NewStatic(docs ...*Document) (*Registry, error) {
	r := New(StaticLoader(docs...))
	if err := r.Reload(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload runs the loader under the load timeout and swaps in the new
// snapshot. On failure the previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		docs []*Document
		err  error
	}
	done := make(chan result, 1)
	go func() {
		docs, err := r.loader.Load(ctx)
		done <- result{docs, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		return fmt.Errorf("loading skills: %w", res.err)
	}

	snap, err := NewSnapshot(res.docs)
	if err != nil {
		return fmt.Errorf("building snapshot: %w", err)
	}
	r.snap.Store(snap)
	r.reloads.Add(1)
	r.logger.Info(ctx, "skill registry loaded", zap.Int("documents", snap.Len()))
	return nil
}

// Current returns the current snapshot or ErrNotLoaded.
func (r *Registry) Current() (*Snapshot, error) {
	snap := r.snap.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Reloads returns how many loads have succeeded.
func (r *Registry) Reloads() int64 {
	return r.reloads.Load()
}

// Watch reloads the registry when files under root change. It returns
// once the watcher is running; the watch stops when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := addWatchDirs(watcher, root); err != nil {
		_ = watcher.Close()
		return err
	}
	go r.processEvents(ctx, watcher)
	return nil
}

func (r *Registry) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addWatchDirs(watcher, event.Name)
				}
			}
			if relevantEvent(event) {
				timer.Reset(reloadDebounce)
			}

		case <-timer.C:
			if err := r.Reload(ctx); err != nil {
				r.logger.Warn(ctx, "skill registry reload failed", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn(ctx, "skill registry watcher error", zap.Error(err))
		}
	}
}

// addWatchDirs watches root and every directory beneath it.
func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		return nil
	})
}

func relevantEvent(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".md" || ext == ""
}
